package worker

import (
	"context"
	"testing"

	"github.com/ppiankov/promessa/internal/model"
)

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(model.RateLimitingConfig{RequestsPerSecond: 100, BurstSize: 1})
	ctx := context.Background()

	for _, u := range []string{
		"https://dadosabertos.camara.leg.br/api/v2/deputados",
		"https://queridodiario.ok.org.br/api/gazettes",
	} {
		if err := limiter.Wait(ctx, u); err != nil {
			t.Errorf("Wait(%s) error = %v", u, err)
		}
	}

	if err := limiter.Wait(ctx, "mailto:gabinete@camara.leg.br"); err == nil {
		t.Error("Wait() without a host should fail")
	}
}

func TestLimiter_WaitCancelled(t *testing.T) {
	limiter := NewLimiter(model.RateLimitingConfig{RequestsPerSecond: 0.001, BurstSize: 1})
	url := "https://g1.globo.com/politica"
	if !limiter.Allow(url) {
		t.Fatal("first request should pass")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := limiter.Wait(ctx, url); err == nil {
		t.Error("Wait() on a spent bucket with a cancelled context should fail")
	}
}

func TestLimiter_HostsAreIndependent(t *testing.T) {
	limiter := NewLimiter(model.RateLimitingConfig{RequestsPerSecond: 0.001, BurstSize: 1})
	url := "https://g1.globo.com/politica"

	if !limiter.Allow(url) {
		t.Fatal("first request should pass")
	}
	if limiter.Allow(url) {
		t.Error("second request should be throttled")
	}
	if limiter.Allow("https://G1.GLOBO.COM:443/economia") {
		t.Error("case and port variants should share the bucket")
	}
	if !limiter.Allow("https://www.camara.leg.br") {
		t.Error("another host should pass")
	}
}

func TestLimiter_HostQuotas(t *testing.T) {
	limiter := NewLimiter(model.RateLimitingConfig{
		RequestsPerSecond: 100,
		BurstSize:         10,
		HostQuotas: []model.HostQuota{
			{Host: "Portaldatransparencia.gov.br", RequestsPerSecond: 0.001, BurstSize: 1},
			{Host: "leg.br", RequestsPerSecond: 100, BurstSize: 10},
			{Host: "camara.leg.br", RequestsPerSecond: 0.001},
		},
	})

	if !limiter.Allow("https://api.portaldatransparencia.gov.br/api-de-dados/despesas") {
		t.Error("first request under the quota should pass")
	}
	if limiter.Allow("https://www.portaldatransparencia.gov.br/") {
		t.Error("subdomains should share the quota bucket")
	}

	// camara.leg.br is more specific than leg.br and inherits the default burst
	for i := 0; i < 10; i++ {
		if !limiter.Allow("https://dadosabertos.camara.leg.br/api/v2") {
			t.Fatalf("request %d should fit in the burst", i)
		}
	}
	if limiter.Allow("https://www.camara.leg.br/") {
		t.Error("camara.leg.br quota should be spent")
	}
	if !limiter.Allow("https://www.al.sp.leg.br/") {
		t.Error("leg.br quota should be independent of camara.leg.br")
	}
	if !limiter.Allow("https://notportaldatransparencia.gov.br/") {
		t.Error("suffix match must respect label boundaries")
	}
}

func TestHostOf(t *testing.T) {
	host, err := hostOf("https://Example.com:8443/foo")
	if err != nil || host != "example.com" {
		t.Errorf("hostOf() = %q, %v; want example.com", host, err)
	}
	if _, err := hostOf("::invalid"); err == nil {
		t.Error("expected error for invalid URL")
	}
}
