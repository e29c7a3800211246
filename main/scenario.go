package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ontanj/encprofile"
	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of vault calls.
type Scenario struct {
	Steps []Step `yaml:"steps"`
}

type Step struct {
	Op        string                     `yaml:"op"`
	Caller    string                     `yaml:"caller"`
	Identity  string                     `yaml:"identity"`
	Other     string                     `yaml:"other"`
	Profile   *encprofile.ProfileInput   `yaml:"profile"`
	Analytics *encprofile.AnalyticsInput `yaml:"analytics"`
	Insights  *encprofile.InsightsInput  `yaml:"insights"`
	// Reveal re-encrypts comparison results to the caller and opens them.
	Reveal bool   `yaml:"reveal"`
	Expect string `yaml:"expect"`
}

type stepResult struct {
	Index  int
	Op     string
	Detail string
	Err    error
}

var expectations = map[string]error{
	"unauthorized":   encprofile.ErrUnauthorized,
	"already_exists": encprofile.ErrAlreadyExists,
	"not_found":      encprofile.ErrProfileNotFound,
	"out_of_range":   encprofile.ErrOutOfRange,
	"not_allowed":    encprofile.ErrNotAllowed,
	"unsupported":    encprofile.ErrUnsupportedOperation,
}

func parseScenario(path string) (Scenario, error) {
	var sc Scenario
	data, err := os.ReadFile(path)
	if err != nil {
		return sc, err
	}
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return sc, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if len(sc.Steps) == 0 {
		return sc, fmt.Errorf("scenario %s has no steps", path)
	}
	for i, st := range sc.Steps {
		if _, ok := expectations[st.Expect]; st.Expect != "" && !ok {
			return sc, fmt.Errorf("step %d: unknown expectation %q", i+1, st.Expect)
		}
	}
	return sc, nil
}

// directory maps scenario names to principals. Plain names get a
// deterministic secp256k1 key so they can sign re-encryption requests.
type directory struct {
	owner common.Address
	keys  map[string]*ecdsa.PrivateKey
}

func newDirectory(owner common.Address) *directory {
	return &directory{owner: owner, keys: make(map[string]*ecdsa.PrivateKey)}
}

func (d *directory) address(name string) (common.Address, error) {
	switch {
	case name == "":
		return common.Address{}, errors.New("missing identity")
	case name == "owner":
		return d.owner, nil
	case strings.HasPrefix(name, "0x"):
		if !common.IsHexAddress(name) {
			return common.Address{}, fmt.Errorf("invalid address %q", name)
		}
		return common.HexToAddress(name), nil
	}
	key, err := d.key(name)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

func (d *directory) key(name string) (*ecdsa.PrivateKey, error) {
	if k, ok := d.keys[name]; ok {
		return k, nil
	}
	if name == "owner" || strings.HasPrefix(name, "0x") {
		return nil, fmt.Errorf("%s has no scenario key", name)
	}
	k, err := crypto.ToECDSA(crypto.Keccak256([]byte("encprofile/" + name)))
	if err != nil {
		return nil, err
	}
	d.keys[name] = k
	return k, nil
}

type runner struct {
	node      *encprofile.Node
	ids       *directory
	timeout   time.Duration
	decrypted chan encprofile.ProfileDecrypted
	onDecrypt func(encprofile.ProfileDecrypted)
}

func newRunner(node *encprofile.Node, owner common.Address, timeout time.Duration) (*runner, error) {
	r := &runner{
		node:      node,
		ids:       newDirectory(owner),
		timeout:   timeout,
		decrypted: make(chan encprofile.ProfileDecrypted, 16),
	}
	r.onDecrypt = func(e encprofile.ProfileDecrypted) { r.decrypted <- e }
	if err := node.Events.Subscribe(encprofile.TopicProfileDecrypted, r.onDecrypt); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *runner) close() {
	r.node.Events.Unsubscribe(encprofile.TopicProfileDecrypted, r.onDecrypt)
}

// run executes every step. A step fails the scenario when its error does
// not match the expectation.
func (r *runner) run(ctx context.Context, sc Scenario) ([]stepResult, error) {
	results := make([]stepResult, 0, len(sc.Steps))
	for i, st := range sc.Steps {
		detail, err := r.step(ctx, st)
		res := stepResult{Index: i + 1, Op: st.Op, Detail: detail, Err: err}
		results = append(results, res)
		if want := expectations[st.Expect]; want != nil {
			if !errors.Is(err, want) {
				return results, fmt.Errorf("step %d (%s): expected %s, got %v", res.Index, st.Op, st.Expect, err)
			}
			continue
		}
		if err != nil {
			return results, fmt.Errorf("step %d (%s): %w", res.Index, st.Op, err)
		}
	}
	return results, nil
}

func (r *runner) step(ctx context.Context, st Step) (string, error) {
	v := r.node.Vault
	switch st.Op {
	case "authorize", "revoke":
		caller, identity, err := r.pair(st.Caller, st.Identity)
		if err != nil {
			return "", err
		}
		if st.Op == "authorize" {
			return "analyst " + st.Identity + " authorized", v.AuthorizeAnalyst(ctx, caller, identity)
		}
		return "analyst " + st.Identity + " revoked", v.RevokeAnalyst(ctx, caller, identity)

	case "create":
		if st.Profile == nil {
			return "", errors.New("create needs a profile")
		}
		caller, err := r.ids.address(st.Caller)
		if err != nil {
			return "", err
		}
		return "profile of " + st.Caller + " stored", v.CreateProfile(ctx, caller, *st.Profile)

	case "analytics":
		if st.Analytics == nil {
			return "", errors.New("analytics step needs analytics")
		}
		caller, identity, err := r.pair(st.Caller, st.Identity)
		if err != nil {
			return "", err
		}
		return "analytics of " + st.Identity + " recorded", v.RecordAnalytics(ctx, caller, identity, *st.Analytics)

	case "insights":
		if st.Insights == nil {
			return "", errors.New("insights step needs insights")
		}
		caller, identity, err := r.pair(st.Caller, st.Identity)
		if err != nil {
			return "", err
		}
		return "insights of " + st.Identity + " generated", v.GenerateInsights(ctx, caller, identity, *st.Insights)

	case "compare":
		return r.compare(ctx, st)

	case "score":
		return r.score(ctx, st)

	case "decrypt":
		return r.decrypt(ctx, st)

	case "status":
		identity, err := r.ids.address(st.Identity)
		if err != nil {
			return "", err
		}
		return statusLine(v, identity)

	case "histogram":
		h := v.Distributions()
		return fmt.Sprintf("%d users, age %v", h.TotalUsers, h.Age), nil
	}
	return "", fmt.Errorf("unknown op %q", st.Op)
}

func (r *runner) pair(caller, identity string) (common.Address, common.Address, error) {
	c, err := r.ids.address(caller)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	i, err := r.ids.address(identity)
	return c, i, err
}

func (r *runner) compare(ctx context.Context, st Step) (string, error) {
	caller, a, err := r.pair(st.Caller, st.Identity)
	if err != nil {
		return "", err
	}
	b, err := r.ids.address(st.Other)
	if err != nil {
		return "", err
	}
	handles, err := r.node.Vault.CompareProfiles(ctx, caller, a, b)
	if err != nil {
		return "", err
	}
	if !st.Reveal {
		return fmt.Sprintf("%d comparison handles, first %s", len(handles), handles[0]), nil
	}
	names := []string{"age", "income", "spending", "risk", "digital", "location"}
	var equal []string
	for i, h := range handles {
		eq, err := r.reveal(ctx, st.Caller, caller, h)
		if err != nil {
			return "", err
		}
		if eq == 1 {
			equal = append(equal, names[i])
		}
	}
	if len(equal) == 0 {
		return "no equal fields", nil
	}
	return "equal: " + strings.Join(equal, ", "), nil
}

func (r *runner) score(ctx context.Context, st Step) (string, error) {
	caller, a, err := r.pair(st.Caller, st.Identity)
	if err != nil {
		return "", err
	}
	b, err := r.ids.address(st.Other)
	if err != nil {
		return "", err
	}
	h, err := r.node.Vault.SimilarityScore(ctx, caller, a, b)
	if err != nil {
		return "", err
	}
	if !st.Reveal {
		return "score handle " + h.String(), nil
	}
	score, err := r.reveal(ctx, st.Caller, caller, h)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("score %d", score), nil
}

// reveal runs the re-encryption flow on behalf of a named caller.
func (r *runner) reveal(ctx context.Context, name string, user common.Address, h encprofile.Handle) (uint64, error) {
	key, err := r.ids.key(name)
	if err != nil {
		return 0, err
	}
	pub := crypto.FromECDSAPub(&key.PublicKey)
	sig, err := crypto.Sign(encprofile.ReencryptDigest(pub, h).Bytes(), key)
	if err != nil {
		return 0, err
	}
	sealed, err := r.node.Vault.ReencryptForUser(ctx, encprofile.ReencryptRequest{
		User:      user,
		PublicKey: pub,
		Handle:    h,
		Signature: sig,
	})
	if err != nil {
		return 0, err
	}
	return encprofile.OpenReencrypted(key, sealed)
}

func (r *runner) decrypt(ctx context.Context, st Step) (string, error) {
	caller, identity, err := r.pair(st.Caller, st.Identity)
	if err != nil {
		return "", err
	}
	id, err := r.node.Vault.RequestProfileDecryption(ctx, caller, identity)
	if err != nil {
		return "", err
	}
	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	for {
		select {
		case e := <-r.decrypted:
			if e.RequestID != id {
				continue
			}
			pv := e.Values
			return fmt.Sprintf("age=%d income=%d spending=%d risk=%d digital=%d location=%d",
				pv.AgeRange, pv.IncomeLevel, pv.SpendingPattern,
				pv.RiskTolerance, pv.DigitalActivity, pv.LocationCluster), nil
		case <-timer.C:
			req, err := r.node.Vault.DecryptionRequestStatus(id)
			if err != nil {
				return "", err
			}
			return "", fmt.Errorf("request %s still %s after %s", id, req.Status, r.timeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func statusLine(v *encprofile.Vault, identity common.Address) (string, error) {
	ps, err := v.ProfileStatus(identity)
	if err != nil {
		return "", err
	}
	if !ps.Active {
		return "no profile", nil
	}
	as, err := v.AnalyticsStatus(identity)
	if err != nil {
		return "", err
	}
	insights, err := v.InsightsStatus(identity)
	if err != nil {
		return "", err
	}
	line := fmt.Sprintf("active since %s, analytics=%t", ps.CreatedAt.Format(time.RFC3339), as.HasData)
	if !insights.IsZero() {
		line += ", insights " + insights.Format(time.RFC3339)
	}
	return line, nil
}
