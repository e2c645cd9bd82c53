package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"

	core "github.com/tokenwise/tokenmeter/internal"
)

// loaderOnce installs the offline BPE loader so encodings come from embedded
// dictionaries instead of a runtime download.
var loaderOnce sync.Once

// Tiktoken is the production Builder. It resolves the model's encoding via
// tiktoken's model table; identifiers without a known encoding fail with
// core.ErrUnknownModel and never substitute another model's encoding.
func Tiktoken(model string) (Codec, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
	})

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownModel, model)
	}
	return &tiktokenCodec{enc: enc}, nil
}

// tiktokenCodec wraps a tiktoken encoding. The encoding is immutable after
// construction, so Count is safe for concurrent use.
type tiktokenCodec struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCodec) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
