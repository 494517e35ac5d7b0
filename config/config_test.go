package config

import (
	"testing"
	"time"
)

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{User: "quaero", Password: "pw", Host: "db", DBName: "quaero"}
	want := "postgres://quaero:pw@db:5432/quaero?sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("DSN: got %q want %q", got, want)
	}

	p.URL = "postgres://other"
	if got := p.DSN(); got != "postgres://other" {
		t.Fatalf("explicit URL must win, got %q", got)
	}
}

func TestRedisAddrDefaultsPort(t *testing.T) {
	r := RedisConfig{Host: "redis"}
	if got := r.Addr(); got != "redis:6379" {
		t.Fatalf("Addr: got %q", got)
	}
}

func TestProcessingNormalizeDefaults(t *testing.T) {
	p := ProcessingConfig{}.Normalize()
	if p.ChunkSize != 500 || p.ChunkOverlap != 0 {
		t.Fatalf("unexpected chunk defaults: %+v", p)
	}
	if p.ExtractTimeout != 60*time.Second {
		t.Fatalf("unexpected extract timeout: %v", p.ExtractTimeout)
	}
	if p.StaleAfter != 30*time.Minute {
		t.Fatalf("unexpected stale window: %v", p.StaleAfter)
	}
	if p.TopKDefault != 5 || p.TopKMax != 20 {
		t.Fatalf("unexpected top_k defaults: %+v", p)
	}
}

func TestProcessingValidateOverlap(t *testing.T) {
	p := ProcessingConfig{ChunkSize: 100, ChunkOverlap: 100}
	if err := p.Validate(); err == nil {
		t.Fatalf("overlap >= size must be rejected")
	}
	p.ChunkOverlap = 99
	if err := p.Validate(); err != nil {
		t.Fatalf("valid overlap rejected: %v", err)
	}
}

func TestQueueNormalizeDefaults(t *testing.T) {
	q := QueueConfig{}.Normalize()
	if q.Stream != "document.process" || q.Group != "quaero-workers" {
		t.Fatalf("unexpected queue naming defaults: %+v", q)
	}
	if q.DedupTTL != 2*time.Hour {
		t.Fatalf("unexpected dedup ttl: %v", q.DedupTTL)
	}
	if q.ClaimMinIdle != 5*time.Minute {
		t.Fatalf("unexpected claim min idle: %v", q.ClaimMinIdle)
	}
}

func TestGeneralValidateRequiresSecret(t *testing.T) {
	if err := (GeneralConfig{}).Validate(); err == nil {
		t.Fatalf("missing jwt secret must be rejected")
	}
	if err := (GeneralConfig{JWTSecret: "s"}).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
