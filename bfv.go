package encprofile

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/ldsec/lattigo/bfv"
	"github.com/ldsec/lattigo/dbfv"
	"github.com/ldsec/lattigo/ring"
)

// BFV cryptosystem
//
// Keys are generated collectively by the committee; the evaluation side only
// ever holds the collective public key and relinearization key. Decryption
// goes through a PCKS key switch towards a target key held by the combiner.

type BFVCryptosystem struct {
	params   *bfv.Parameters
	pk       *bfv.PublicKey
	rlk      *bfv.EvaluationKey
	domain   uint64 // Eq is exact whenever |a-b| <= domain
	eqScale  uint64
	maxDepth int
}

type bfvCiphertext struct {
	msg   *bfv.Ciphertext
	depth int
}

type bfvPartial struct {
	share      dbfv.PCKSShare
	ciphertext bfvCiphertext
}

type bfvKeyShare struct {
	params *bfv.Parameters
	sk     *bfv.SecretKey
	tpk    *bfv.PublicKey
}

type bfvCombiner struct {
	params  *bfv.Parameters
	tsk     *bfv.SecretKey
	parties int
}

// NewBFV runs the collective key generation for cfg.Parties members and
// returns the public cryptosystem together with the committee.
func NewBFV(cfg BFVConfig) (*BFVCryptosystem, *Committee, error) {
	if cfg.Parties < 1 {
		return nil, nil, fmt.Errorf("bfv: need at least one party, got %d", cfg.Parties)
	}
	if cfg.EqualityDomain < 1 {
		return nil, nil, fmt.Errorf("bfv: equality domain must be positive")
	}
	params := bfvParams(cfg.PlaintextModulus)
	domain := uint64(cfg.EqualityDomain)
	if hi, lo := bits.Mul64(domain, domain); hi != 0 || lo >= params.T {
		return nil, nil, fmt.Errorf("bfv: equality domain %d too large for plaintext modulus %d", domain, params.T)
	}

	crs, crp, err := GenCRP(params)
	if err != nil {
		return nil, nil, err
	}

	kgen := bfv.NewKeyGenerator(params)
	sks := make([]*bfv.SecretKey, cfg.Parties)
	for i := range sks {
		sks[i] = kgen.GenSecretKey()
	}
	tsk, tpk := kgen.GenKeyPair()

	cs := &BFVCryptosystem{
		params:   params,
		pk:       collectivePublicKey(params, crs, sks),
		rlk:      collectiveRelinKey(params, crp, sks),
		domain:   domain,
		eqScale:  eqScale(domain, params.T),
		maxDepth: cfg.MaxDepth,
	}

	committee := &Committee{
		Combiner: bfvCombiner{params: params, tsk: tsk, parties: cfg.Parties},
	}
	for _, sk := range sks {
		committee.Shares = append(committee.Shares, bfvKeyShare{params: params, sk: sk, tpk: tpk})
	}
	return cs, committee, nil
}

func bfvParams(t uint64) *bfv.Parameters {
	params := *bfv.DefaultParams[bfv.PN14QP438]
	if t == 0 {
		t = 65537
	}
	params.T = t
	return &params
}

func (cs *BFVCryptosystem) Encrypt(plaintext uint64) (Ciphertext, error) {
	if plaintext >= cs.params.T {
		return nil, ErrPlaintextOverflow
	}
	return bfvCiphertext{msg: cs.encrypt(plaintext)}, nil
}

func (cs *BFVCryptosystem) encrypt(val uint64) *bfv.Ciphertext {
	encoder := bfv.NewEncoder(cs.params)
	pt := bfv.NewPlaintext(cs.params)
	encoder.EncodeUint([]uint64{val}, pt)
	encryptor := bfv.NewEncryptorFromPk(cs.params, cs.pk)
	return encryptor.EncryptNew(pt)
}

func (cs *BFVCryptosystem) Add(a, b Ciphertext) (Ciphertext, error) {
	ac, bc, err := bfvPair(a, b)
	if err != nil {
		return nil, err
	}
	evaluator := bfv.NewEvaluator(cs.params)
	res := evaluator.AddNew(ac.msg, bc.msg)
	return bfvCiphertext{msg: res, depth: maxDepth(ac, bc)}, nil
}

// Eq evaluates prod_{k=1..D} (d^2 - k^2) / prod_{k=1..D} (-k^2) on d = a-b,
// which is 1 at d = 0 and 0 for every 0 < |d| <= D.
func (cs *BFVCryptosystem) Eq(a, b Ciphertext) (Ciphertext, error) {
	ac, bc, err := bfvPair(a, b)
	if err != nil {
		return nil, err
	}
	depth := maxDepth(ac, bc) + cs.eqDepth()
	if cs.maxDepth > 0 && depth > cs.maxDepth {
		return nil, ErrDepthExceeded
	}

	evaluator := bfv.NewEvaluator(cs.params)
	diff := cs.sub(ac.msg, bc.msg)
	store := evaluator.MulNew(diff, diff)
	square := evaluator.RelinearizeNew(store, cs.rlk)

	terms := make([]*bfv.Ciphertext, cs.domain)
	for k := uint64(1); k <= cs.domain; k++ {
		negSquare := cs.params.T - (k*k)%cs.params.T
		terms[k-1] = evaluator.AddNew(square, cs.encrypt(negSquare))
	}
	prod := cs.product(terms)
	return bfvCiphertext{msg: evaluator.MulScalarNew(prod, cs.eqScale), depth: depth}, nil
}

func (cs *BFVCryptosystem) Select(cond, ifTrue, ifFalse Ciphertext) (Ciphertext, error) {
	cc, ok := cond.(bfvCiphertext)
	if !ok {
		return nil, fmt.Errorf("%w: expected bfv ciphertext, got %T", ErrInvalidCiphertext, cond)
	}
	tc, fc, err := bfvPair(ifTrue, ifFalse)
	if err != nil {
		return nil, err
	}
	depth := maxDepth(cc, maxDepthCiphertext(tc, fc)) + 1
	if cs.maxDepth > 0 && depth > cs.maxDepth {
		return nil, ErrDepthExceeded
	}

	evaluator := bfv.NewEvaluator(cs.params)
	diff := cs.sub(tc.msg, fc.msg)
	store := evaluator.MulNew(cc.msg, diff)
	prod := evaluator.RelinearizeNew(store, cs.rlk)
	return bfvCiphertext{msg: evaluator.AddNew(fc.msg, prod), depth: depth}, nil
}

func (cs *BFVCryptosystem) MarshalCiphertext(ct Ciphertext) ([]byte, error) {
	c, ok := ct.(bfvCiphertext)
	if !ok {
		return nil, fmt.Errorf("%w: expected bfv ciphertext, got %T", ErrInvalidCiphertext, ct)
	}
	data, err := c.msg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("bfv: marshal ciphertext: %w", err)
	}
	return append([]byte{byte(c.depth)}, data...), nil
}

func (cs *BFVCryptosystem) UnmarshalCiphertext(data []byte) (Ciphertext, error) {
	if len(data) < 2 {
		return nil, ErrInvalidCiphertext
	}
	msg := bfv.NewCiphertext(cs.params, 1)
	if err := msg.UnmarshalBinary(data[1:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return bfvCiphertext{msg: msg, depth: int(data[0])}, nil
}

func (cs *BFVCryptosystem) N() *big.Int {
	return new(big.Int).SetUint64(cs.params.T)
}

// a - b computed as a + (T-1)*b
func (cs *BFVCryptosystem) sub(a, b *bfv.Ciphertext) *bfv.Ciphertext {
	evaluator := bfv.NewEvaluator(cs.params)
	neg := evaluator.MulScalarNew(b, cs.params.T-1)
	return evaluator.AddNew(a, neg)
}

// multiply all ciphertexts pairwise in a balanced tree
func (cs *BFVCryptosystem) product(cts []*bfv.Ciphertext) *bfv.Ciphertext {
	evaluator := bfv.NewEvaluator(cs.params)
	for len(cts) > 1 {
		next := make([]*bfv.Ciphertext, 0, (len(cts)+1)/2)
		for i := 0; i+1 < len(cts); i += 2 {
			store := evaluator.MulNew(cts[i], cts[i+1])
			next = append(next, evaluator.RelinearizeNew(store, cs.rlk))
		}
		if len(cts)%2 == 1 {
			next = append(next, cts[len(cts)-1])
		}
		cts = next
	}
	return cts[0]
}

func (cs *BFVCryptosystem) eqDepth() int {
	return 1 + bits.Len64(cs.domain-1)
}

// inverse of prod_{k=1..D} (-k^2) mod t
func eqScale(domain, t uint64) uint64 {
	mod := new(big.Int).SetUint64(t)
	acc := big.NewInt(1)
	for k := uint64(1); k <= domain; k++ {
		acc.Mul(acc, new(big.Int).SetUint64(t-(k*k)%t))
		acc.Mod(acc, mod)
	}
	return invert(acc.Uint64(), t)
}

func invert(val, mod uint64) uint64 {
	return new(big.Int).ModInverse(new(big.Int).SetUint64(val), new(big.Int).SetUint64(mod)).Uint64()
}

func bfvPair(a, b Ciphertext) (bfvCiphertext, bfvCiphertext, error) {
	ac, ok := a.(bfvCiphertext)
	if !ok {
		return bfvCiphertext{}, bfvCiphertext{}, fmt.Errorf("%w: expected bfv ciphertext, got %T", ErrInvalidCiphertext, a)
	}
	bc, ok := b.(bfvCiphertext)
	if !ok {
		return bfvCiphertext{}, bfvCiphertext{}, fmt.Errorf("%w: expected bfv ciphertext, got %T", ErrInvalidCiphertext, b)
	}
	return ac, bc, nil
}

func maxDepth(a, b bfvCiphertext) int {
	if a.depth > b.depth {
		return a.depth
	}
	return b.depth
}

func maxDepthCiphertext(a, b bfvCiphertext) bfvCiphertext {
	if a.depth > b.depth {
		return a
	}
	return b
}

// secret key share

func (ks bfvKeyShare) PartialDecrypt(ciphertext Ciphertext) (PartialDecryption, error) {
	c, ok := ciphertext.(bfvCiphertext)
	if !ok {
		return nil, fmt.Errorf("%w: expected bfv ciphertext, got %T", ErrInvalidCiphertext, ciphertext)
	}
	pcks := dbfv.NewPCKSProtocol(ks.params, 3.19)
	pcksShare := pcks.AllocateShares()
	pcks.GenShare(ks.sk.Get(), ks.tpk, c.msg, pcksShare)
	return bfvPartial{share: pcksShare, ciphertext: c}, nil
}

func (c bfvCombiner) CombinePartials(parts []PartialDecryption) (uint64, error) {
	if len(parts) != c.parties {
		return 0, fmt.Errorf("bfv: need %d partial decryptions, got %d", c.parties, len(parts))
	}
	pcks := dbfv.NewPCKSProtocol(c.params, 3.19)
	pcksCombined := pcks.AllocateShares()

	var enc bfvCiphertext
	for i, part := range parts {
		p, ok := part.(bfvPartial)
		if !ok {
			return 0, fmt.Errorf("bfv: unexpected partial decryption %T", part)
		}
		if i == 0 {
			enc = p.ciphertext
		}
		pcks.AggregateShares(p.share, pcksCombined, pcksCombined)
	}

	encOut := bfv.NewCiphertext(c.params, 1)
	pcks.KeySwitch(pcksCombined, enc.msg, encOut)

	decryptor := bfv.NewDecryptor(c.params, c.tsk)
	ptres := bfv.NewPlaintext(c.params)
	decryptor.Decrypt(encOut, ptres)
	encoder := bfv.NewEncoder(c.params)
	return encoder.DecodeUint(ptres)[0], nil
}

// collective key generation

func GenCRP(params *bfv.Parameters) (*ring.Poly, []*ring.Poly, error) {
	contextKeys, err := ring.NewContextWithParams(1<<params.LogN, keyModuli(params))
	if err != nil {
		return nil, nil, fmt.Errorf("bfv: key context: %w", err)
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, nil, fmt.Errorf("bfv: crs seed: %w", err)
	}
	crsGen := ring.NewCRPGenerator(seed, contextKeys)
	crs := crsGen.ClockNew()
	crp := make([]*ring.Poly, params.Beta())
	for i := uint64(0); i < params.Beta(); i++ {
		crp[i] = crsGen.ClockNew()
	}
	return crs, crp, nil
}

func keyModuli(params *bfv.Parameters) []uint64 {
	moduli := make([]uint64, 0, len(params.Qi)+len(params.Pi))
	moduli = append(moduli, params.Qi...)
	return append(moduli, params.Pi...)
}

func collectivePublicKey(params *bfv.Parameters, crs *ring.Poly, sks []*bfv.SecretKey) *bfv.PublicKey {
	ckg := dbfv.NewCKGProtocol(params)
	ckgCombined := ckg.AllocateShares()
	for _, sk := range sks {
		ckgShare := ckg.AllocateShares()
		ckg.GenShare(sk.Get(), crs, ckgShare)
		ckg.AggregateShares(ckgShare, ckgCombined, ckgCombined)
	}
	pk := bfv.NewPublicKey(params)
	ckg.GenPublicKey(ckgCombined, crs, pk)
	return pk
}

// three-round relinearization key protocol, every party in turn
func collectiveRelinKey(params *bfv.Parameters, crp []*ring.Poly, sks []*bfv.SecretKey) *bfv.EvaluationKey {
	rkg := dbfv.NewEkgProtocol(params)
	contextKeys, _ := ring.NewContextWithParams(1<<params.LogN, keyModuli(params))

	n := len(sks)
	ephemeral := make([]*ring.Poly, n)
	roundOne := make([]dbfv.RKGShareRoundOne, n)
	roundTwo := make([]dbfv.RKGShareRoundTwo, n)
	roundThree := make([]dbfv.RKGShareRoundThree, n)

	rkgCombined1, rkgCombined2, rkgCombined3 := rkg.AllocateShares()
	for i, sk := range sks {
		ephemeral[i] = contextKeys.SampleTernaryMontgomeryNTTNew(1.0 / 3)
		roundOne[i], roundTwo[i], roundThree[i] = rkg.AllocateShares()
		rkg.GenShareRoundOne(ephemeral[i], sk.Get(), crp, roundOne[i])
		rkg.AggregateShareRoundOne(roundOne[i], rkgCombined1, rkgCombined1)
	}
	for i, sk := range sks {
		rkg.GenShareRoundTwo(rkgCombined1, sk.Get(), crp, roundTwo[i])
		rkg.AggregateShareRoundTwo(roundTwo[i], rkgCombined2, rkgCombined2)
	}
	for i, sk := range sks {
		rkg.GenShareRoundThree(rkgCombined2, ephemeral[i], sk.Get(), roundThree[i])
		rkg.AggregateShareRoundThree(roundThree[i], rkgCombined3, rkgCombined3)
	}

	rlk := bfv.NewRelinKey(params, 1)
	rkg.GenRelinearizationKey(rkgCombined2, rkgCombined3, rlk)
	return rlk
}
