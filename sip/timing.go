package sip

import (
	"encoding/json"
	"time"

	"braces.dev/errtrace"
)

// RFC 3261 Section 17.1.1.1 base timer values. T1 estimates the round-trip
// time across the network; T2 bounds how slow retransmission intervals are
// allowed to grow; T4 bounds how long a message can linger in the network
// once sent.
const (
	T1      = 500 * time.Millisecond
	T2      = 4 * time.Second
	T4      = 5 * time.Second
	TimeD   = 32 * time.Second
	Time100 = 200 * time.Millisecond
)

// TimingConfig holds the base SIP timer values a transaction is built with.
// The zero value is valid and yields the RFC 3261 defaults ([T1], [T2], [T4],
// [TimeD], [Time100]); every other named timer (A through M) is derived from
// these five base values per RFC 3261 §17.1/§17.2.
type TimingConfig struct {
	baseT1, baseT2, baseT4 time.Duration
	waitD, autoTrying      time.Duration
}

var defTimingCfg TimingConfig

// NewTimings builds a [TimingConfig] from explicit base values. Passing 0 for
// any argument falls back to that timer's package-level default.
func NewTimings(t1, t2, t4, timeD, time100 time.Duration) TimingConfig {
	return TimingConfig{
		baseT1:     t1,
		baseT2:     t2,
		baseT4:     t4,
		waitD:      timeD,
		autoTrying: time100,
	}
}

func orDefault(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

// T1 is the message round-trip estimate.
func (c TimingConfig) T1() time.Duration { return orDefault(c.baseT1, T1) }

// T2 is the ceiling on retransmit interval growth for INVITE and non-INVITE
// requests and for INVITE final responses.
func (c TimingConfig) T2() time.Duration { return orDefault(c.baseT2, T2) }

// T4 is the assumed maximum duration a message can remain in transit.
func (c TimingConfig) T4() time.Duration { return orDefault(c.baseT4, T4) }

// Time100 bounds how long a UAS INVITE transaction waits before it must emit
// an automatic 100 Trying.
func (c TimingConfig) Time100() time.Duration { return orDefault(c.autoTrying, Time100) }

// TimeD is how long an unreliable-transport UAC INVITE transaction lingers in
// Completed to catch retransmitted final responses.
func (c TimingConfig) TimeD() time.Duration { return orDefault(c.waitD, TimeD) }

// TimeA is the first INVITE request retransmit interval (unreliable transport).
func (c TimingConfig) TimeA() time.Duration { return c.T1() }

// TimeB is the UAC INVITE transaction's give-up timeout, fired from Calling.
func (c TimingConfig) TimeB() time.Duration { return 64 * c.T1() }

// TimeC bounds how long a stateful proxy waits on a branch before cancelling it.
func (c TimingConfig) TimeC() time.Duration { return 600 * c.T1() }

// TimeE is the first non-INVITE request retransmit interval (unreliable transport).
func (c TimingConfig) TimeE() time.Duration { return c.T1() }

// TimeF is the UAC non-INVITE transaction's give-up timeout, fired from Trying/Proceeding.
func (c TimingConfig) TimeF() time.Duration { return 64 * c.T1() }

// TimeG is the first UAS INVITE final-response retransmit interval.
func (c TimingConfig) TimeG() time.Duration { return c.T1() }

// TimeH bounds how long a UAS INVITE transaction waits in Completed for an ACK.
func (c TimingConfig) TimeH() time.Duration { return 64 * c.T1() }

// TimeI is how long an unreliable-transport UAS INVITE transaction lingers in
// Confirmed to absorb ACK retransmits.
func (c TimingConfig) TimeI() time.Duration { return c.T4() }

// TimeJ is how long an unreliable-transport UAS non-INVITE transaction lingers
// in Completed to absorb request retransmits.
func (c TimingConfig) TimeJ() time.Duration { return 64 * c.T1() }

// TimeK is how long an unreliable-transport UAC non-INVITE transaction lingers
// in Completed to absorb response retransmits.
func (c TimingConfig) TimeK() time.Duration { return c.T4() }

// TimeL is how long a UAS INVITE transaction stays in Accepted after sending a
// 2xx, absorbing retransmitted INVITEs.
func (c TimingConfig) TimeL() time.Duration { return 64 * c.T1() }

// TimeM is how long a UAC INVITE transaction stays in Accepted after a 2xx, so
// that 2xx responses arriving on other forked branches are still observed.
func (c TimingConfig) TimeM() time.Duration { return 64 * c.T1() }

// IsZero reports whether every base timer was left unset, i.e. the config is
// equivalent to the package defaults.
func (c TimingConfig) IsZero() bool {
	return c == TimingConfig{}
}

// timingWireForm is the JSON projection of [TimingConfig]; only the base
// values are persisted, derived timers are recomputed on load.
type timingWireForm struct {
	T1      time.Duration `json:"t1,omitempty"`
	T2      time.Duration `json:"t2,omitempty"`
	T4      time.Duration `json:"t4,omitempty"`
	TimeD   time.Duration `json:"time_d,omitempty"`
	Time100 time.Duration `json:"time_100,omitempty"`
}

func (c TimingConfig) MarshalJSON() ([]byte, error) {
	wire := timingWireForm{
		T1:      c.baseT1,
		T2:      c.baseT2,
		T4:      c.baseT4,
		TimeD:   c.waitD,
		Time100: c.autoTrying,
	}
	return errtrace.Wrap2(json.Marshal(wire))
}

func (c *TimingConfig) UnmarshalJSON(data []byte) error {
	var wire timingWireForm
	if err := json.Unmarshal(data, &wire); err != nil {
		return errtrace.Wrap(err)
	}
	*c = TimingConfig{
		baseT1:     wire.T1,
		baseT2:     wire.T2,
		baseT4:     wire.T4,
		waitD:      wire.TimeD,
		autoTrying: wire.Time100,
	}
	return nil
}
