package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stakepool/crypto"
)

var testInitializer = crypto.DeriveAddressString("config-test", "init").String()

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
data_dir: /tmp/stakingd
tls:
  allow_insecure: true
pool:
  initializer: "`+testInitializer+`"
  reward_period: 720h
  max_lock_period: 8760h
rate_limit:
  rps: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.Ledger.Driver != LedgerMemory || cfg.Pool.Namespace != "stakepool" || cfg.Events.History != 1024 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.RateLimit.Burst != 5 {
		t.Fatalf("expected burst to default to rps, got %d", cfg.RateLimit.Burst)
	}
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		t.Fatalf("engine config: %v", err)
	}
	if engineCfg.RewardPeriod != 30*24*time.Hour || engineCfg.PremiumThreshold != 1000 {
		t.Fatalf("unexpected engine config: %+v", engineCfg)
	}
	if engineCfg.Initializer.String() != testInitializer {
		t.Fatalf("initializer mismatch")
	}
	if cfg.StatePath() != filepath.Join("/tmp/stakingd", "state") {
		t.Fatalf("unexpected state path %s", cfg.StatePath())
	}
}

func TestLoadConfigSQLiteDefaultsDSN(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/stakingd
tls:
  allow_insecure: true
ledger:
  driver: SQLite
pool:
  initializer: "`+testInitializer+`"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Ledger.DSN != filepath.Join("/var/lib/stakingd", "ledger.db") {
		t.Fatalf("unexpected dsn %q", cfg.Ledger.DSN)
	}
}

func TestLoadConfigEnvironmentOverride(t *testing.T) {
	t.Setenv("STAKEPOOL_ENV", "staging")
	path := writeConfig(t, `
data_dir: /tmp/x
environment: dev
tls:
  allow_insecure: true
pool:
  initializer: "`+testInitializer+`"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Environment != "staging" {
		t.Fatalf("expected env override, got %q", cfg.Environment)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"tls": `
data_dir: /tmp/x
pool:
  initializer: "` + testInitializer + `"
`,
		"data_dir": `
tls:
  allow_insecure: true
pool:
  initializer: "` + testInitializer + `"
`,
		"initializer": `
data_dir: /tmp/x
tls:
  allow_insecure: true
`,
		"driver": `
data_dir: /tmp/x
tls:
  allow_insecure: true
ledger:
  driver: mongo
pool:
  initializer: "` + testInitializer + `"
`,
		"rate_numerator": `
data_dir: /tmp/x
tls:
  allow_insecure: true
pool:
  initializer: "` + testInitializer + `"
  rate_numerator: 5
`,
		"expected_stake": `
data_dir: /tmp/x
tls:
  allow_insecure: true
pool:
  initializer: "` + testInitializer + `"
  distribution_horizon: 720h
`,
		"webhook": `
data_dir: /tmp/x
tls:
  allow_insecure: true
pool:
  initializer: "` + testInitializer + `"
events:
  webhook:
    url: https://hooks.example/stake
`,
		"field": `
data_dir: /tmp/x
tls:
  allow_insecure: true
unknown_field: true
pool:
  initializer: "` + testInitializer + `"
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), name) && name != "field" {
				t.Fatalf("error %q does not mention %s", err, name)
			}
		})
	}
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "config.yaml"))
	if err != nil {
		t.Fatalf("load sample config: %v", err)
	}
	if cfg.Ledger.Driver != LedgerSQLite || cfg.Ledger.DSN != filepath.Join("data", "stakingd", "ledger.db") {
		t.Fatalf("unexpected ledger config: %+v", cfg.Ledger)
	}
}
