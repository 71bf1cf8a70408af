package registry

import (
	"testing"
	"time"

	"github.com/controlplane/aicp/internal/cperrors"
)

func TestSlug(t *testing.T) {
	tests := []struct{ name, want string }{
		{"Customer Support Bot", "customer-support-bot"},
		{"billing_agent", "billing-agent"},
		{"Refund-Bot v2!", "refund-bot-v2"},
		{"  leading spaces", "--leading-spaces"},
	}
	for _, tt := range tests {
		if got := Slug(tt.name); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRegister_SlugAndDuplicate(t *testing.T) {
	r := New(nil)

	a, err := r.Register(Attrs{Name: "Customer Support Bot", RiskLevel: RiskMedium})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if a.ID != "customer-support-bot" {
		t.Errorf("id = %q, want customer-support-bot", a.ID)
	}
	if a.Status != StatusActive {
		t.Errorf("status = %q, want active", a.Status)
	}

	_, err = r.Register(Attrs{Name: "Customer Support Bot", RiskLevel: RiskMedium})
	if !cperrors.Is(err, cperrors.DuplicateAgent) {
		t.Fatalf("expected DuplicateAgent, got %v", err)
	}
}

func TestRegister_InvalidRiskLevel(t *testing.T) {
	r := New(nil)
	_, err := r.Register(Attrs{Name: "bot", RiskLevel: RiskLevel("extreme")})
	if !cperrors.Is(err, cperrors.InvalidRiskLevel) {
		t.Fatalf("expected InvalidRiskLevel, got %v", err)
	}
}

func TestGetListFilters(t *testing.T) {
	r := New(nil)
	r.Register(Attrs{Name: "bot-a", Environment: EnvProd, RiskLevel: RiskLow})
	r.Register(Attrs{Name: "bot-b", Environment: EnvDev, RiskLevel: RiskHigh})

	got, ok := r.Get("bot-a")
	if !ok || got.Environment != EnvProd {
		t.Fatalf("get bot-a = %+v, %v", got, ok)
	}

	prod := r.List(Filters{Environment: EnvProd, ActiveOnly: true})
	if len(prod) != 1 || prod[0].ID != "bot-a" {
		t.Fatalf("prod filter = %+v", prod)
	}

	high := r.List(Filters{RiskLevel: RiskHigh, ActiveOnly: true})
	if len(high) != 1 || high[0].ID != "bot-b" {
		t.Fatalf("risk filter = %+v", high)
	}
}

func TestUpdate_ImmutableFields(t *testing.T) {
	r := New(nil)
	a, _ := r.Register(Attrs{Name: "bot", RiskLevel: RiskLow, CreatedBy: "alice"})

	newModel := "gpt-5"
	updated, err := r.Update(a.ID, Patch{Model: &newModel})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Model != "gpt-5" {
		t.Errorf("model not updated")
	}
	if updated.ID != a.ID || updated.CreatedBy != "alice" {
		t.Error("immutable fields were changed")
	}
}

func TestUpdate_NotFound(t *testing.T) {
	r := New(nil)
	_, err := r.Update("ghost", Patch{})
	if !cperrors.Is(err, cperrors.AgentNotFound) {
		t.Fatalf("expected AgentNotFound, got %v", err)
	}
}

func TestDeactivateActivate(t *testing.T) {
	r := New(nil)
	a, _ := r.Register(Attrs{Name: "bot", RiskLevel: RiskLow})

	if err := r.Deactivate(a.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, _ := r.Get(a.ID)
	if got.Executable() {
		t.Error("expected non-executable after deactivate")
	}

	if err := r.Activate(a.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	got, _ = r.Get(a.ID)
	if !got.Executable() {
		t.Error("expected executable after activate")
	}
}

func TestDelete(t *testing.T) {
	r := New(nil)
	a, _ := r.Register(Attrs{Name: "bot", RiskLevel: RiskLow})

	if err := r.Delete(a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := r.Get(a.ID); ok {
		t.Error("expected agent gone after delete")
	}
}

func TestCheckRate(t *testing.T) {
	r := New(nil)
	cap := &RateCap{Limit: 2, Window: time.Minute}
	a, _ := r.Register(Attrs{Name: "bot", RiskLevel: RiskLow, RateCap: cap})

	if !r.CheckRate(a.ID) {
		t.Fatal("expected first call allowed")
	}
	if !r.CheckRate(a.ID) {
		t.Fatal("expected second call allowed")
	}
	if r.CheckRate(a.ID) {
		t.Fatal("expected third call denied (cap=2)")
	}
}

func TestCheckRate_Unbounded(t *testing.T) {
	r := New(nil)
	a, _ := r.Register(Attrs{Name: "bot", RiskLevel: RiskLow})

	for i := 0; i < 100; i++ {
		if !r.CheckRate(a.ID) {
			t.Fatal("expected unbounded agent to always pass")
		}
	}
}
