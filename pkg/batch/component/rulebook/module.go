package rulebook

import (
	"time"

	"go.uber.org/fx"

	port "github.com/tigerroll/swell/pkg/batch/core/application/port"
	config "github.com/tigerroll/swell/pkg/batch/core/config"
	exception "github.com/tigerroll/swell/pkg/batch/support/util/exception"
)

// SourceParams collects the inputs for building the rule source. Embedded
// rulebook bytes take precedence over a configured file path.
type SourceParams struct {
	fx.In
	Cfg  *config.Config
	Data []byte `name:"rulebookBytes" optional:"true"`
}

// NewRuleSource builds the cached rule source from embedded bytes or the
// configured rulebook path.
func NewRuleSource(p SourceParams) (port.RuleSource, error) {
	var inner port.RuleSource
	switch {
	case len(p.Data) > 0:
		inner = NewYAMLRuleSource(p.Data)
	case p.Cfg.Swell.Rulebook.Path != "":
		inner = NewYAMLRuleSourceFromFile(p.Cfg.Swell.Rulebook.Path)
	default:
		return nil, exception.NewBatchError("rulebook", "no rulebook source configured: supply embedded rulebook bytes or set swell.rulebook.path", nil, false, false)
	}

	ttl := time.Duration(p.Cfg.Swell.Rulebook.CacheTTLSeconds) * time.Second
	return NewCachedRuleSource(inner, ttl), nil
}

// Module provides the rulebook rule source.
var Module = fx.Options(
	fx.Provide(NewRuleSource),
)
