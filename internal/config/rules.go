package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RuleTable is the versioned lookup table consulted by business validation.
// Codes and rates change with regulation, so they live outside the binary.
type RuleTable struct {
	Version                   string             `mapstructure:"version"`
	GTUCodes                  []string           `mapstructure:"gtuCodes"`
	ProcedureCodes            []string           `mapstructure:"procedureCodes"`
	VATRates                  map[string]float64 `mapstructure:"vatRates"`
	AmountTolerance           float64            `mapstructure:"amountTolerance"`
	RequiredDeclarationFields []string           `mapstructure:"requiredDeclarationFields"`
}

// DefaultRuleTable returns the rule table used when no rules file is present.
func DefaultRuleTable() RuleTable {
	return RuleTable{
		Version: "builtin-1",
		GTUCodes: []string{
			"GTU_01", "GTU_02", "GTU_03", "GTU_04", "GTU_05", "GTU_06", "GTU_07",
			"GTU_08", "GTU_09", "GTU_10", "GTU_11", "GTU_12", "GTU_13",
		},
		ProcedureCodes: []string{
			"WSTO_EE", "IED", "TP", "TT_WNT", "TT_D", "MR_T", "MR_UZ", "I_42", "I_63",
			"B_SPV", "B_SPV_DOSTAWA", "B_MPV_PROWIZJA", "MPP",
		},
		VATRates: map[string]float64{
			"standard":     23,
			"reduced":      8,
			"superReduced": 5,
			"zero":         0,
		},
		AmountTolerance:           1,
		RequiredDeclarationFields: []string{"P_38", "P_51"},
	}
}

// RuleSource exposes the current rule table.
type RuleSource interface {
	Rules() RuleTable
}

// StaticRules is a RuleSource with a fixed table.
type StaticRules RuleTable

func (s StaticRules) Rules() RuleTable { return RuleTable(s) }

// RulesHolder keeps the latest valid rule table and swaps it on file change.
type RulesHolder struct {
	current atomic.Value // holds RuleTable
}

func NewRulesHolder(cfg Config, log *zap.Logger) (RuleSource, error) {
	v := viper.New()

	if path := strings.TrimSpace(cfg.RulesPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rules")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/auditfile")
		v.AddConfigPath(".")
	}

	holder := &RulesHolder{}
	if err := v.ReadInConfig(); err != nil {
		// An explicit RULES_PATH that cannot be read is a startup error.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Info("rules file not found, using builtin rule table")
		holder.current.Store(DefaultRuleTable())
		return holder, nil
	}

	table, err := decodeRules(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(table)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeRules(v)
		if err != nil {
			log.Warn("rules reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("rules reloaded", zap.String("file", e.Name), zap.String("version", updated.Version))
	})

	return holder, nil
}

func (h *RulesHolder) Rules() RuleTable {
	return h.current.Load().(RuleTable)
}

// decodeRules replaces builtin values key by key; a key present in the file
// is taken whole, so a shorter list or rate map is not merged with defaults.
func decodeRules(v *viper.Viper) (RuleTable, error) {
	var table RuleTable
	if err := v.UnmarshalKey("rules", &table); err != nil {
		return RuleTable{}, err
	}

	defaults := DefaultRuleTable()
	if !v.IsSet("rules.gtuCodes") {
		table.GTUCodes = defaults.GTUCodes
	}
	if !v.IsSet("rules.procedureCodes") {
		table.ProcedureCodes = defaults.ProcedureCodes
	}
	if !v.IsSet("rules.vatRates") {
		table.VATRates = defaults.VATRates
	}
	if !v.IsSet("rules.amountTolerance") {
		table.AmountTolerance = defaults.AmountTolerance
	}
	if !v.IsSet("rules.requiredDeclarationFields") {
		table.RequiredDeclarationFields = defaults.RequiredDeclarationFields
	}

	if err := ValidateRuleTable(table); err != nil {
		return RuleTable{}, err
	}
	return table, nil
}

// ValidateRuleTable rejects tables that would make every record fail.
func ValidateRuleTable(t RuleTable) error {
	if strings.TrimSpace(t.Version) == "" {
		return errors.New("rules.version is required")
	}
	if len(t.VATRates) == 0 {
		return errors.New("rules.vatRates cannot be empty")
	}
	for name, rate := range t.VATRates {
		if rate < 0 || rate >= 100 {
			return errors.New("rules.vatRates." + name + " out of range")
		}
	}
	if t.AmountTolerance < 0 {
		return errors.New("rules.amountTolerance cannot be negative")
	}
	return nil
}
