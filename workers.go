package encprofile

import (
	"context"
)

// partialRequest asks one key holder for its share of a decryption.
type partialRequest struct {
	ct  Ciphertext
	out chan<- partialResult
}

type partialResult struct {
	index int
	part  PartialDecryption
	err   error
}

// ShareWorker serves partial decryptions for the key share at index until
// ctx is done or requests is closed. Replies go to the channel carried by
// each request, which must have room for them.
func ShareWorker(ctx context.Context, index int, ks KeyShare, requests <-chan partialRequest) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-requests:
			if !ok {
				return
			}
			part, err := ks.PartialDecrypt(req.ct)
			req.out <- partialResult{index: index, part: part, err: err}
		}
	}
}
