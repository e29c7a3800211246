package encprofile

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

const (
	MaxPreferredChannel = 5
	MaxLoyaltyScore     = 100
	MaxChurnRisk        = 100
)

type AnalyticsInput struct {
	TotalInteractions  uint32 `yaml:"total_interactions"`
	AvgSessionDuration uint16 `yaml:"avg_session_duration"`
	PreferredChannel   uint8  `yaml:"preferred_channel"`
	LoyaltyScore       uint8  `yaml:"loyalty_score"`
	ChurnRisk          uint8  `yaml:"churn_risk"`
	IsVIP              bool   `yaml:"is_vip"`
}

func (in AnalyticsInput) validate() error {
	return checkRanges(
		bound{"preferredChannel", uint64(in.PreferredChannel), MaxPreferredChannel},
		bound{"loyaltyScore", uint64(in.LoyaltyScore), MaxLoyaltyScore},
		bound{"churnRisk", uint64(in.ChurnRisk), MaxChurnRisk},
	)
}

type AnalyticsData struct {
	TotalInteractions  Handle `json:"totalInteractions"`
	AvgSessionDuration Handle `json:"avgSessionDuration"`
	PreferredChannel   Handle `json:"preferredChannel"`
	LoyaltyScore       Handle `json:"loyaltyScore"`
	ChurnRisk          Handle `json:"churnRisk"`
	IsVIP              bool   `json:"isVIP"`
	HasData            bool   `json:"hasData"`
}

func (a *AnalyticsData) handles() []Handle {
	return []Handle{a.TotalInteractions, a.AvgSessionDuration, a.PreferredChannel, a.LoyaltyScore, a.ChurnRisk}
}

type AnalyticsStatus struct {
	HasData bool
	IsVIP   bool
}

func analyticsKey(identity common.Address) []byte {
	return key(prefixAnalytics, identity.Bytes())
}

// RecordAnalytics replaces identity's analytics record.
func (v *Vault) RecordAnalytics(ctx context.Context, caller, identity common.Address, in AnalyticsInput) error {
	return v.execute(ctx, "record_analytics", func(tx *opTx) error {
		if err := v.requireAnalystOrOwner(tx.txn, caller); err != nil {
			return err
		}
		p, err := activeProfile(tx.txn, identity)
		if err != nil {
			return err
		}
		if err := in.validate(); err != nil {
			return err
		}

		s := tx.session()
		values := []struct {
			v uint64
			t ValueType
		}{
			{uint64(in.TotalInteractions), TypeUint32},
			{uint64(in.AvgSessionDuration), TypeUint16},
			{uint64(in.PreferredChannel), TypeUint8},
			{uint64(in.LoyaltyScore), TypeUint8},
			{uint64(in.ChurnRisk), TypeUint8},
		}
		handles := make([]Handle, len(values))
		for i, val := range values {
			h, err := s.Encrypt(val.v, val.t)
			if err != nil {
				return err
			}
			if err := s.AllowThis(h); err != nil {
				return err
			}
			if v.cfg.Grants.OwnerReadsAnalytics {
				if err := s.Allow(h, identity); err != nil {
					return err
				}
			}
			handles[i] = h
		}

		record := AnalyticsData{
			TotalInteractions:  handles[0],
			AvgSessionDuration: handles[1],
			PreferredChannel:   handles[2],
			LoyaltyScore:       handles[3],
			ChurnRisk:          handles[4],
			IsVIP:              in.IsVIP,
			HasData:            true,
		}
		if err := setJSON(tx.txn, analyticsKey(identity), &record); err != nil {
			return err
		}
		now := v.now()
		tx.publish(TopicAnalyticsUpdated, notification(identity, now))
		return v.touch(tx, identity, p, now)
	})
}

func (v *Vault) AnalyticsStatus(identity common.Address) (AnalyticsStatus, error) {
	var status AnalyticsStatus
	err := v.view(func(txn Txn) error {
		var a AnalyticsData
		found, err := getJSON(txn, analyticsKey(identity), &a)
		if err != nil || !found {
			return err
		}
		status = AnalyticsStatus{HasData: a.HasData, IsVIP: a.IsVIP}
		return nil
	})
	return status, err
}

// AnalyticsHandles returns the stored record. Reading handles is gated like
// writing them.
func (v *Vault) AnalyticsHandles(caller, identity common.Address) (AnalyticsData, error) {
	var a AnalyticsData
	err := v.view(func(txn Txn) error {
		if err := v.requireAnalystOrOwner(txn, caller); err != nil {
			return err
		}
		found, err := getJSON(txn, analyticsKey(identity), &a)
		if err != nil {
			return err
		}
		if !found {
			return ErrProfileNotFound
		}
		return nil
	})
	return a, err
}
