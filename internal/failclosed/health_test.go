package failclosed

import "testing"

func TestRegistry_CheckAll_AllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("a", func() Report { return Report{Status: StatusHealthy} })
	r.Register("b", func() Report { return Report{Status: StatusHealthy} })

	overall, reports := r.CheckAll()
	if overall != StatusHealthy {
		t.Errorf("overall = %v, want healthy", overall)
	}
	if len(reports) != 2 {
		t.Errorf("len(reports) = %d, want 2", len(reports))
	}
}

func TestRegistry_CheckAll_NonCriticalDegraded(t *testing.T) {
	r := NewRegistry()
	r.Register("a", func() Report { return Report{Status: StatusHealthy, Critical: true} })
	r.Register("b", func() Report { return Report{Status: StatusDown, Critical: false} })

	overall, _ := r.CheckAll()
	if overall != StatusDegraded {
		t.Errorf("overall = %v, want degraded", overall)
	}
}

func TestRegistry_CheckAll_CriticalDown(t *testing.T) {
	r := NewRegistry()
	r.Register("a", func() Report { return Report{Status: StatusDown, Critical: true} })
	r.Register("b", func() Report { return Report{Status: StatusHealthy} })

	overall, _ := r.CheckAll()
	if overall != StatusDown {
		t.Errorf("overall = %v, want down", overall)
	}
}

func TestRegistry_CheckAll_ProbePanicIsolated(t *testing.T) {
	r := NewRegistry()
	r.Register("panics", func() Report { panic("boom") })

	overall, reports := r.CheckAll()
	if overall != StatusDown {
		t.Errorf("overall = %v, want down", overall)
	}
	if reports["panics"].Err == nil {
		t.Error("expected panic to surface as an Err")
	}
}

func TestRegistry_LastResults(t *testing.T) {
	r := NewRegistry()
	r.Register("a", func() Report { return Report{Status: StatusHealthy} })
	r.CheckAll()

	last := r.LastResults()
	if len(last) != 1 {
		t.Fatalf("len(last) = %d, want 1", len(last))
	}
}
