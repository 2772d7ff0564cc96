package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"BILLING_FIRESTORE_PROJECT_ID":    "billing-test",
		"BILLING_GATEWAY_KEY_ID":          "key_test",
		"BILLING_GATEWAY_KEY_SECRET":      "shh",
		"BILLING_GATEWAY_CHECKOUT_SECRET": "checkout-secret",
		"BILLING_INVOICE_SELLER_STATE":    "KA",
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(baseEnv()),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Server.Port)
	}
	if cfg.Gateway.Currency != "INR" {
		t.Fatalf("expected default currency, got %q", cfg.Gateway.Currency)
	}
	if cfg.Sweeper.Interval != 5*time.Minute {
		t.Fatalf("expected default sweep interval, got %s", cfg.Sweeper.Interval)
	}
	if cfg.Sweeper.StaleAfter != 24*time.Hour {
		t.Fatalf("expected default stale threshold, got %s", cfg.Sweeper.StaleAfter)
	}
	if cfg.Idempotency.Header != "Idempotency-Key" {
		t.Fatalf("unexpected idempotency header %q", cfg.Idempotency.Header)
	}
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["BILLING_SERVER_PORT"] = "9090"
	env["BILLING_SWEEP_INTERVAL"] = "90s"
	env["BILLING_GATEWAY_CURRENCY"] = "inr"

	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(env),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Fatalf("expected overridden port, got %q", cfg.Server.Port)
	}
	if cfg.Sweeper.Interval != 90*time.Second {
		t.Fatalf("expected overridden sweep interval, got %s", cfg.Sweeper.Interval)
	}
	if cfg.Gateway.Currency != "INR" {
		t.Fatalf("expected currency upper-cased, got %q", cfg.Gateway.Currency)
	}
}

func TestLoadReportsMissingFields(t *testing.T) {
	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{}),
	)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validation.Fields()
	want := map[string]bool{
		"Firestore.ProjectID":    false,
		"Gateway.KeyID":          false,
		"Gateway.CheckoutSecret": false,
		"Invoices.SellerState":   false,
	}
	for _, field := range fields {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Fatalf("expected %s in validation fields %v", field, fields)
		}
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	env := baseEnv()
	env["BILLING_GATEWAY_KEY_SECRET"] = "sm://projects/p/secrets/gw-key/versions/latest"

	resolver := SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		if ref != "secret://projects/p/secrets/gw-key/versions/latest" {
			t.Fatalf("unexpected ref %q", ref)
		}
		return "resolved-secret", nil
	})

	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(env),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Gateway.KeySecret != "resolved-secret" {
		t.Fatalf("expected resolved secret, got %q", cfg.Gateway.KeySecret)
	}
}

func TestLoadSecretResolverFailure(t *testing.T) {
	env := baseEnv()
	env["BILLING_GATEWAY_WEBHOOK_SECRET"] = "secret://projects/p/secrets/webhook/versions/1"

	boom := errors.New("unavailable")
	resolver := SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		return "", boom
	})

	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(env),
		WithSecretResolver(resolver),
	)
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}
