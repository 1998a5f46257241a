//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hyperjump/hubagent/internal/vector"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	onnxInputs  = []string{"input_ids", "attention_mask", "token_type_ids"}
	onnxOutputs = []string{"output"}
)

// onnxIO is the fixed set of tensors bound to a session. Each Run reads the
// three input tensors and overwrites the output tensor.
type onnxIO struct {
	inputs [3]*ort.Tensor[int64]
	output *ort.Tensor[float32]
}

func newONNXIO(maxTokens, dimensions int) (*onnxIO, error) {
	io := &onnxIO{}
	shape := ort.NewShape(1, int64(maxTokens))
	for i, name := range onnxInputs {
		t, err := ort.NewTensor(shape, make([]int64, maxTokens))
		if err != nil {
			io.destroy()
			return nil, fmt.Errorf("create %s tensor: %w", name, err)
		}
		io.inputs[i] = t
	}
	out, err := ort.NewTensor(ort.NewShape(1, int64(dimensions)), make([]float32, dimensions))
	if err != nil {
		io.destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	io.output = out
	return io, nil
}

func (io *onnxIO) bind() (inputs, outputs []ort.ArbitraryTensor) {
	for _, t := range io.inputs {
		inputs = append(inputs, t)
	}
	return inputs, []ort.ArbitraryTensor{io.output}
}

func (io *onnxIO) load(ids, mask, types []int64) {
	copy(io.inputs[0].GetData(), ids)
	copy(io.inputs[1].GetData(), mask)
	copy(io.inputs[2].GetData(), types)
}

func (io *onnxIO) destroy() {
	for i, t := range io.inputs {
		if t != nil {
			_ = t.Destroy()
			io.inputs[i] = nil
		}
	}
	if io.output != nil {
		_ = io.output.Destroy()
		io.output = nil
	}
}

// ONNXEmbedder runs a sentence-embedding model with ONNX Runtime. It needs
// CGO and the onnxruntime shared library. Runs are serialized on one session.
type ONNXEmbedder struct {
	name       string
	dimensions int
	maxTokens  int
	cache      *EmbeddingCache
	tokenizer  Tokenizer

	mu      sync.Mutex
	session *ort.AdvancedSession
	io      *onnxIO
}

// NewONNXEmbedder loads the model at modelPath. The runtime environment is
// initialized on first use.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens, cacheSize int) (*ONNXEmbedder, error) {
	if modelPath == "" {
		return nil, errors.New("onnx model path not configured")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("onnx dimensions must be positive, got %d", dimensions)
	}
	if maxTokens <= 2 {
		maxTokens = 256
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}

	io, err := newONNXIO(maxTokens, dimensions)
	if err != nil {
		return nil, err
	}
	inputs, outputs := io.bind()
	session, err := ort.NewAdvancedSession(modelPath, onnxInputs, onnxOutputs, inputs, outputs, nil)
	if err != nil {
		io.destroy()
		return nil, fmt.Errorf("load onnx model %s: %w", modelPath, err)
	}

	return &ONNXEmbedder{
		name:       "onnx-" + strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath)),
		dimensions: dimensions,
		maxTokens:  maxTokens,
		cache:      NewEmbeddingCache(cacheSize),
		tokenizer:  &HashTokenizer{},
		session:    session,
		io:         io,
	}, nil
}

// Embed returns the unit-length embedding of text. Results are cached by text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return nil, errors.New("onnx embedder closed")
	}
	e.io.load(ids, mask, types)
	err := e.session.Run()
	var emb []float32
	if err == nil {
		emb = append([]float32(nil), e.io.output.GetData()[:e.dimensions]...)
	}
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}

	vector.Normalize(emb)
	e.cache.Set(text, emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

// Name identifies the model the embeddings come from.
func (e *ONNXEmbedder) Name() string { return e.name }

// Close releases the session and its tensors. It is safe to call twice.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	e.io.destroy()
	return err
}
