package encprofile

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	MaxAgeRange        = 7
	MaxIncomeLevel     = 9
	MaxSpendingPattern = 9
	MaxRiskTolerance   = 9
	MaxDigitalActivity = 9
	MaxLocationCluster = 19
)

// ProfileInput is the plaintext a user submits once.
type ProfileInput struct {
	AgeRange        uint8 `yaml:"age_range"`
	IncomeLevel     uint8 `yaml:"income_level"`
	SpendingPattern uint8 `yaml:"spending_pattern"`
	RiskTolerance   uint8 `yaml:"risk_tolerance"`
	DigitalActivity uint8 `yaml:"digital_activity"`
	LocationCluster uint8 `yaml:"location_cluster"`
}

func (in ProfileInput) validate() error {
	return checkRanges(
		bound{"ageRange", uint64(in.AgeRange), MaxAgeRange},
		bound{"incomeLevel", uint64(in.IncomeLevel), MaxIncomeLevel},
		bound{"spendingPattern", uint64(in.SpendingPattern), MaxSpendingPattern},
		bound{"riskTolerance", uint64(in.RiskTolerance), MaxRiskTolerance},
		bound{"digitalActivity", uint64(in.DigitalActivity), MaxDigitalActivity},
		bound{"locationCluster", uint64(in.LocationCluster), MaxLocationCluster},
	)
}

func (in ProfileInput) fields() [6]uint8 {
	return [6]uint8{in.AgeRange, in.IncomeLevel, in.SpendingPattern, in.RiskTolerance, in.DigitalActivity, in.LocationCluster}
}

// UserProfile is the stored record. Field handles never change after
// creation.
type UserProfile struct {
	AgeRange        Handle    `json:"ageRange"`
	IncomeLevel     Handle    `json:"incomeLevel"`
	SpendingPattern Handle    `json:"spendingPattern"`
	RiskTolerance   Handle    `json:"riskTolerance"`
	DigitalActivity Handle    `json:"digitalActivity"`
	LocationCluster Handle    `json:"locationCluster"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

// Fields returns the handles in comparison order: age, income, spending,
// risk, digital, location.
func (p *UserProfile) Fields() [6]Handle {
	return [6]Handle{p.AgeRange, p.IncomeLevel, p.SpendingPattern, p.RiskTolerance, p.DigitalActivity, p.LocationCluster}
}

type ProfileStatus struct {
	Active      bool
	CreatedAt   time.Time
	LastUpdated time.Time
}

func profileKey(identity common.Address) []byte {
	return key(prefixProfile, identity.Bytes())
}

// CreateProfile encrypts and stores the caller's profile.
func (v *Vault) CreateProfile(ctx context.Context, caller common.Address, in ProfileInput) error {
	return v.execute(ctx, "create_profile", func(tx *opTx) error {
		var existing UserProfile
		found, err := getJSON(tx.txn, profileKey(caller), &existing)
		if err != nil {
			return err
		}
		if found && existing.Active {
			return ErrAlreadyExists
		}
		if err := in.validate(); err != nil {
			return err
		}

		s := tx.session()
		var handles [6]Handle
		for i, val := range in.fields() {
			h, err := s.Encrypt(uint64(val), TypeUint8)
			if err != nil {
				return err
			}
			if err := s.AllowThis(h); err != nil {
				return err
			}
			if err := s.Allow(h, caller); err != nil {
				return err
			}
			handles[i] = h
		}

		now := v.now()
		p := UserProfile{
			AgeRange:        handles[0],
			IncomeLevel:     handles[1],
			SpendingPattern: handles[2],
			RiskTolerance:   handles[3],
			DigitalActivity: handles[4],
			LocationCluster: handles[5],
			Active:          true,
			CreatedAt:       now,
			LastUpdated:     now,
		}
		if err := setJSON(tx.txn, profileKey(caller), &p); err != nil {
			return err
		}

		apply, err := v.dist.record(tx.txn, in)
		if err != nil {
			return err
		}
		tx.onCommit(apply)
		tx.afterCommit(func() {
			v.logger.Info("profile created", zap.String("identity", caller.Hex()))
		})
		tx.publish(TopicProfileCreated, notification(caller, now))
		return nil
	})
}

// ProfileStatus reports the plaintext state of identity's profile. An
// identity without a profile yields the zero status.
func (v *Vault) ProfileStatus(identity common.Address) (ProfileStatus, error) {
	var status ProfileStatus
	err := v.view(func(txn Txn) error {
		var err error
		status, err = profileStatus(txn, identity)
		return err
	})
	return status, err
}

// LoadProfileStatus reads a profile status straight from kv.
func LoadProfileStatus(kv KV, identity common.Address) (ProfileStatus, error) {
	var status ProfileStatus
	err := kv.View(func(txn Txn) error {
		var err error
		status, err = profileStatus(txn, identity)
		return err
	})
	return status, err
}

func profileStatus(txn Txn, identity common.Address) (ProfileStatus, error) {
	var p UserProfile
	found, err := getJSON(txn, profileKey(identity), &p)
	if err != nil || !found {
		return ProfileStatus{}, err
	}
	return ProfileStatus{Active: p.Active, CreatedAt: p.CreatedAt, LastUpdated: p.LastUpdated}, nil
}

func (v *Vault) IsActive(identity common.Address) (bool, error) {
	status, err := v.ProfileStatus(identity)
	return status.Active, err
}

// ProfileHandles returns the caller's own field handles.
func (v *Vault) ProfileHandles(caller common.Address) ([6]Handle, error) {
	var handles [6]Handle
	err := v.view(func(txn Txn) error {
		p, err := activeProfile(txn, caller)
		if err != nil {
			return err
		}
		handles = p.Fields()
		return nil
	})
	return handles, err
}

// touch bumps LastUpdated of an active profile inside tx.
func (v *Vault) touch(tx *opTx, identity common.Address, p *UserProfile, at time.Time) error {
	p.LastUpdated = at
	if err := setJSON(tx.txn, profileKey(identity), p); err != nil {
		return err
	}
	tx.publish(TopicProfileUpdated, notification(identity, at))
	return nil
}
