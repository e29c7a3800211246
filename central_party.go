package encprofile

import (
	"context"
	"fmt"
)

// Decrypt runs a threshold decryption of ct: every share worker receives the
// ciphertext, and the partial decryptions are combined once all arrived.
func (g *Gateway) Decrypt(ctx context.Context, ct Ciphertext) (uint64, error) {
	runCtx, shareChans, err := g.running()
	if err != nil {
		return 0, err
	}

	out := make(chan partialResult, len(shareChans))
	for _, ch := range shareChans {
		select {
		case ch <- partialRequest{ct: ct, out: out}:
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-runCtx.Done():
			return 0, ErrOracleStopped
		}
	}

	parts := make([]PartialDecryption, len(shareChans))
	for range shareChans {
		select {
		case res := <-out:
			if res.err != nil {
				return 0, fmt.Errorf("partial decryption %d: %w", res.index, res.err)
			}
			parts[res.index] = res.part
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-runCtx.Done():
			return 0, ErrOracleStopped
		}
	}
	return g.committee.Combiner.CombinePartials(parts)
}

// DecryptAll decrypts cts in order.
func (g *Gateway) DecryptAll(ctx context.Context, cts []Ciphertext) ([]uint64, error) {
	values := make([]uint64, len(cts))
	for i, ct := range cts {
		v, err := g.Decrypt(ctx, ct)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}
