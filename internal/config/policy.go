package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/makerhub/backend/internal/fulfillment"
	"github.com/makerhub/backend/internal/models"
)

// Policy holds the business rules operators tune without a deploy.
type Policy struct {
	// RefundSchedule is the percent of an order's total credited back when
	// it is cancelled from a status.
	RefundSchedule map[models.OrderStatus]int64 `yaml:"refund_schedule"`
	// MaxAdjustment caps the absolute amount of one admin adjustment. 0 means no cap.
	MaxAdjustment int64         `yaml:"max_adjustment"`
	GiftCardTTL   time.Duration `yaml:"gift_card_ttl"`
}

func DefaultPolicy() Policy {
	return Policy{
		RefundSchedule: maps.Clone(fulfillment.DefaultRefundSchedule),
		GiftCardTTL:    365 * 24 * time.Hour,
	}
}

// LoadPolicy reads the YAML policy at path. A missing file yields the
// defaults; keys absent from the file keep their default values.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return Policy{}, fmt.Errorf("unable to read %s: %w", path, err)
	}

	var file Policy
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Policy{}, fmt.Errorf("unable to parse %s: %w", path, err)
	}
	if file.RefundSchedule != nil {
		p.RefundSchedule = file.RefundSchedule
	}
	if file.MaxAdjustment != 0 {
		p.MaxAdjustment = file.MaxAdjustment
	}
	if file.GiftCardTTL != 0 {
		p.GiftCardTTL = file.GiftCardTTL
	}
	if err := p.validate(); err != nil {
		return Policy{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

var cancellable = map[models.OrderStatus]bool{
	models.OrderPendingPayment: true,
	models.OrderPaid:           true,
	models.OrderAssigned:       true,
	models.OrderInProduction:   true,
}

func (p Policy) validate() error {
	for status, pct := range p.RefundSchedule {
		if !cancellable[status] {
			return fmt.Errorf("refund_schedule: orders cannot be cancelled from %q", status)
		}
		if pct < 0 || pct > 100 {
			return fmt.Errorf("refund_schedule[%s]: percent must be within 0..100, got %d", status, pct)
		}
	}
	if p.MaxAdjustment < 0 {
		return fmt.Errorf("max_adjustment must not be negative, got %d", p.MaxAdjustment)
	}
	if p.GiftCardTTL < 0 {
		return fmt.Errorf("gift_card_ttl must not be negative, got %s", p.GiftCardTTL)
	}
	return nil
}
