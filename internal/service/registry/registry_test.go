package registry

import (
	"testing"
	"time"

	"github.com/formbridge/ingest/internal/domain/delivery"
	"github.com/formbridge/ingest/internal/domain/destination"
	"github.com/formbridge/ingest/internal/domain/submission"
	"github.com/formbridge/ingest/internal/port/connector"
)

type fakeConnector struct{}

func (fakeConnector) Deliver(connector.Context, destination.Destination, submission.CanonicalEvent, []byte) delivery.ConnectorResult {
	return delivery.Success(200, time.Millisecond)
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := New()
	c := fakeConnector{}
	r.Register("rest", c)

	got, ok := r.Lookup("rest")
	if !ok {
		t.Fatal("expected rest connector registered")
	}
	if got != c {
		t.Errorf("got different connector back")
	}
}

func TestRegistry_LookupMiss(t *testing.T) {
	r := New()
	_, ok := r.Lookup("unknown")
	if ok {
		t.Error("expected miss for unregistered type")
	}
}

func TestRegistry_MustLookupPanicsOnMiss(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unregistered type")
		}
	}()
	New().MustLookup("unknown")
}
