package embedder

import (
	"context"
	"fmt"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

var ortInit struct {
	once sync.Once
	err  error
}

// ONNXConfig points at an exported sentence-transformer (all-MiniLM-L6-v2 by default).
type ONNXConfig struct {
	ModelPath     string
	TokenizerPath string
	LibraryPath   string
	Dimension     int
}

// ONNXEncoder runs a BERT-style ONNX model and returns last_hidden_state per token.
type ONNXEncoder struct {
	tk        *tokenizer.Tokenizer
	session   *ort.DynamicAdvancedSession
	dimension int
}

var _ TokenEncoder = (*ONNXEncoder)(nil)

// NewONNXEncoder loads the tokenizer and model. The onnxruntime environment is
// initialised once per process.
func NewONNXEncoder(cfg ONNXConfig) (*ONNXEncoder, error) {
	ortInit.once.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		ortInit.err = ort.InitializeEnvironment()
	})
	if ortInit.err != nil {
		return nil, fmt.Errorf("failed to initialise onnxruntime: %w", ortInit.err)
	}

	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", cfg.TokenizerPath, err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load onnx model %s: %w", cfg.ModelPath, err)
	}

	dim := cfg.Dimension
	if dim <= 0 {
		dim = 384
	}
	return &ONNXEncoder{tk: tk, session: session, dimension: dim}, nil
}

func (e *ONNXEncoder) Dimension() int {
	return e.dimension
}

// Encode tokenizes text (with [CLS]/[SEP]), truncates to maxTokens and runs the model.
func (e *ONNXEncoder) Encode(ctx context.Context, text string, maxTokens int) (*TokenStates, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	enc, err := e.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	ids, mask, types := truncate(enc.Ids, enc.AttentionMask, enc.TypeIds, maxTokens)
	n := int64(len(ids))

	shape := ort.NewShape(1, n)
	idsT, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, err
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, err
	}
	defer maskT.Destroy()
	typesT, err := ort.NewTensor(shape, types)
	if err != nil {
		return nil, err
	}
	defer typesT.Destroy()
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, n, int64(e.dimension)))
	if err != nil {
		return nil, err
	}
	defer out.Destroy()

	if err := e.session.Run([]ort.Value{idsT, maskT, typesT}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	flat := out.GetData()
	hidden := make([][]float32, n)
	for t := range hidden {
		row := make([]float32, e.dimension)
		copy(row, flat[t*e.dimension:(t+1)*e.dimension])
		hidden[t] = row
	}
	return &TokenStates{Hidden: hidden, Mask: mask}, nil
}

func (e *ONNXEncoder) Close() error {
	return e.session.Destroy()
}

// truncate keeps the first maxTokens-1 tokens plus the final [SEP] token.
func truncate(ids, mask, types []int, maxTokens int) ([]int64, []int64, []int64) {
	keep := len(ids)
	if maxTokens > 0 && keep > maxTokens {
		keep = maxTokens
	}
	toInt64 := func(src []int, last int) []int64 {
		out := make([]int64, keep)
		for i := 0; i < keep-1 && i < len(src); i++ {
			out[i] = int64(src[i])
		}
		if keep > 0 && last < len(src) {
			out[keep-1] = int64(src[last])
		}
		return out
	}
	lastIdx := len(ids) - 1
	outIDs := toInt64(ids, lastIdx)
	var outMask, outTypes []int64
	if len(mask) == len(ids) {
		outMask = toInt64(mask, lastIdx)
	} else {
		outMask = make([]int64, keep)
		for i := range outMask {
			outMask[i] = 1
		}
	}
	if len(types) == len(ids) {
		outTypes = toInt64(types, lastIdx)
	} else {
		outTypes = make([]int64, keep)
	}
	return outIDs, outMask, outTypes
}
