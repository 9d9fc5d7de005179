package config

import "testing"

func setBase(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DATA_ROOT", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	setBase(t)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChunkMaxTokens != 500 || cfg.ChunkOverlap != 50 {
		t.Errorf("chunk defaults = %d/%d", cfg.ChunkMaxTokens, cfg.ChunkOverlap)
	}
	if cfg.SectionDelimiter != "===" {
		t.Errorf("delimiter = %q", cfg.SectionDelimiter)
	}
	if cfg.HistoryBackend != "memory" || cfg.ChatProvider != "openai" {
		t.Errorf("backends = %s/%s", cfg.HistoryBackend, cfg.ChatProvider)
	}
	if cfg.EmbeddingDim != 3072 {
		t.Errorf("embedding dim = %d", cfg.EmbeddingDim)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	setBase(t)

	cases := map[string]string{
		"HISTORY_BACKEND":   "cassandra",
		"CONTRATOS_TRACING": "jaeger",
		"CHAT_PROVIDER":     "gemini",
		"MAX_RETRIES":       "99",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setBase(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("%s=%s accepted", key, value)
			}
		})
	}
}

func TestAnthropicProviderRequiresKey(t *testing.T) {
	setBase(t)
	t.Setenv("CHAT_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("anthropic provider accepted without key")
	}

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChatProvider != "anthropic" {
		t.Errorf("provider = %s", cfg.ChatProvider)
	}
}

func TestDerivedPaths(t *testing.T) {
	setBase(t)
	t.Setenv("DATA_ROOT", "corpus")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ContractsDir() != "corpus/contracts" {
		t.Errorf("contracts dir = %s", cfg.ContractsDir())
	}
	if cfg.BM25Path() != "corpus/bm25_index.gob" {
		t.Errorf("bm25 path = %s", cfg.BM25Path())
	}
}
