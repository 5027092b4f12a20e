package pipeline

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockProber is a mock implementation of HealthProber
type mockProber struct {
	err    error
	called bool
}

func (m *mockProber) CheckHealth(ctx context.Context) error {
	m.called = true
	return m.err
}

var _ = Describe("HealthGate", func() {
	var prober *mockProber

	BeforeEach(func() {
		prober = &mockProber{}
	})

	When("the constrained-network preference is on", func() {
		It("should allow when the probe succeeds", func() {
			gate := NewHealthGate(prober, true)
			Expect(gate.Allow()).To(BeTrue())
			Expect(prober.called).To(BeTrue())
		})

		It("should deny when the probe fails", func() {
			prober.err = errors.New("unreachable")
			gate := NewHealthGate(prober, true)
			Expect(gate.Allow()).To(BeFalse())
		})
	})

	When("the constrained-network preference is off", func() {
		It("should allow without probing", func() {
			prober.err = errors.New("unreachable")
			gate := NewHealthGate(prober, false)
			Expect(gate.Allow()).To(BeTrue())
			Expect(prober.called).To(BeFalse())
		})
	})
})
