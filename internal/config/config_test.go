package config

import "testing"

func validConfig() Config {
	return Config{
		HTTP: HTTPConfig{Port: 8080},
		Datasets: DatasetsConfig{
			Dir: "data",
			Datasets: []DatasetConfig{
				{Name: "posts", Vectorizer: "default", ANN: true},
			},
		},
		Embedding: EmbeddingConfig{
			Providers: map[string]ProviderConfig{
				"openai": {APIKey: "test-key"},
			},
			Vectorizers: map[string]VectorizerConfig{
				"default": {Provider: "openai", Model: "text-embedding-3-small", Dimensions: 512},
			},
		},
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_InvalidBudgetAction(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.Providers["openai"] = ProviderConfig{
		APIKey: "test-key",
		Budget: BudgetConfig{DailyTokenLimit: 1000000, Action: "invalid_action"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid budget action")
	}

	expected := `embedding.providers.openai.budget.action must be "warn" or "reject", got "invalid_action"`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_ValidBudgetActions(t *testing.T) {
	validActions := []string{"", "warn", "reject"}

	for _, action := range validActions {
		t.Run("action="+action, func(t *testing.T) {
			cfg := validConfig()
			cfg.Embedding.Providers["openai"] = ProviderConfig{
				APIKey: "test-key",
				Budget: BudgetConfig{Action: action},
			}

			if err := cfg.Validate(); err != nil {
				t.Fatalf("unexpected error for valid action %q: %v", action, err)
			}
		})
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_NoDatasets(t *testing.T) {
	cfg := validConfig()
	cfg.Datasets.Datasets = nil

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing datasets")
	}
}

func TestValidate_DuplicateDataset(t *testing.T) {
	cfg := validConfig()
	cfg.Datasets.Datasets = append(cfg.Datasets.Datasets, DatasetConfig{Name: "posts"})

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate dataset name")
	}
}

func TestValidate_UnknownVectorizer(t *testing.T) {
	cfg := validConfig()
	cfg.Datasets.Datasets[0].Vectorizer = "missing"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown vectorizer")
	}
}

func TestValidate_VectorizerWithoutProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.Vectorizers["default"] = VectorizerConfig{Provider: "missing"}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestValidate_DatasetWithoutVectorizer(t *testing.T) {
	// Datasets may be served without text queries.
	cfg := validConfig()
	cfg.Datasets.Datasets[0].Vectorizer = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 30 {
		t.Errorf("expected WriteTimeoutSec=30, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.HTTP.ShutdownSec != 10 {
		t.Errorf("expected ShutdownSec=10, got %d", cfg.HTTP.ShutdownSec)
	}
	if cfg.Datasets.Dir != "data" {
		t.Errorf("expected Dir='data', got %q", cfg.Datasets.Dir)
	}
	if cfg.Cache.ReadinessTimeout != 10 {
		t.Errorf("expected ReadinessTimeout=10, got %d", cfg.Cache.ReadinessTimeout)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:     HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 60, ShutdownSec: 5},
		Datasets: DatasetsConfig{Dir: "/var/lib/threadlens"},
		Cache:    CacheConfig{ReadinessTimeout: 15},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("expected ReadTimeoutSec=30, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 60 {
		t.Errorf("expected WriteTimeoutSec=60, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.Datasets.Dir != "/var/lib/threadlens" {
		t.Errorf("expected Dir='/var/lib/threadlens', got %q", cfg.Datasets.Dir)
	}
	if cfg.Cache.ReadinessTimeout != 15 {
		t.Errorf("expected ReadinessTimeout=15, got %d", cfg.Cache.ReadinessTimeout)
	}
}

func TestCacheEnabled(t *testing.T) {
	if (CacheConfig{}).Enabled() {
		t.Error("empty cache config must be disabled")
	}
	if !(CacheConfig{Addrs: []string{"localhost:6379"}}).Enabled() {
		t.Error("cache with addrs must be enabled")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("THREADLENS_TEST_KEY", "secret")

	got := string(expandEnvVars([]byte("api_key: ${THREADLENS_TEST_KEY}\nurl: ${MISSING_VAR:-http://fallback}")))
	want := "api_key: secret\nurl: http://fallback"
	if got != want {
		t.Errorf("expansion mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}
