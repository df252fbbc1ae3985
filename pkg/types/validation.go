package types

import (
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// IsValidID checks session/user identifiers received from clients.
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return idRegex.MatchString(id)
}

// Validate checks presence of attention and relaxation and the documented
// ranges of every band. Any failure is reported as ErrInvalidEEGData.
func (p *EEGPayload) Validate() error {
	if !p.HasReadings() {
		return ErrInvalidEEGData
	}
	if err := validatorInstance().Struct(p); err != nil {
		return ErrInvalidEEGData
	}
	return nil
}

// HasReadings reports whether attention and relaxation are both present.
func (p *EEGPayload) HasReadings() bool {
	return p != nil && p.Attention != nil && p.Relaxation != nil
}

// IsDisconnectArtifact reports the known headset artifact where both
// attention and relaxation read zero. Such samples are dropped.
func (p *EEGPayload) IsDisconnectArtifact() bool {
	return p.Attention != nil && p.Relaxation != nil && *p.Attention == 0 && *p.Relaxation == 0
}

// SignalQualityValue returns the reported signal quality or zero.
func (p *EEGPayload) SignalQualityValue() float64 {
	return deref(p.SignalQuality)
}

// ToSample builds a sample for the given session and student.
func (p *EEGPayload) ToSample(id, sessionID, studentID string) *EEGSample {
	return &EEGSample{
		ID:            id,
		SessionID:     sessionID,
		StudentID:     studentID,
		Attention:     deref(p.Attention),
		Relaxation:    deref(p.Relaxation),
		Delta:         deref(p.Delta),
		Theta:         deref(p.Theta),
		Alpha:         deref(p.Alpha),
		Beta:          deref(p.Beta),
		Gamma:         deref(p.Gamma),
		SignalQuality: deref(p.SignalQuality),
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
