package crypto

import (
	"fmt"
	"os"

	"go.uber.org/fx"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	exception "github.com/tigerroll/swell/pkg/batch/support/util/exception"
)

// NewFieldCipherFromConfig builds the field cipher from the environment
// variable named in configuration. A missing key fails closed: an engine that
// cannot encrypt must not start and stage plaintext instead.
func NewFieldCipherFromConfig(cfg *config.Config) (port.FieldCipher, error) {
	const op = "crypto.NewFieldCipherFromConfig"
	envName := cfg.Swell.Batch.Processor.EncryptionKeyEnv
	if envName == "" {
		return nil, exception.NewBatchError("crypto", fmt.Sprintf("%s: swell.batch.processor.encryption_key_env is not set", op), nil, false, false)
	}
	encodedKey := os.Getenv(envName)
	if encodedKey == "" {
		return nil, exception.NewBatchError("crypto",
			fmt.Sprintf("%s: environment variable '%s' carries no field encryption key", op, envName), nil, false, false)
	}
	return NewAESFieldCipherFromBase64(encodedKey)
}

// Module provides the AES-256-GCM field cipher.
var Module = fx.Options(
	fx.Provide(NewFieldCipherFromConfig),
)
