package vision

import (
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"
)

// EmbeddingDim is the output dimension of the card art embedding model.
const EmbeddingDim = 512

// Art region offsets against the canonical 488x680 frame. The title band,
// type line, rules text and footer are excluded: those pixels are
// near-identical across printings and dilute discrimination.
const (
	artLeft   = 0.030
	artRight  = 0.970
	artTop    = 0.081
	artBottom = 0.845
)

// Model input side and ImageNet normalization statistics.
const embedInputSize = 224

var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Embedder extracts 512-dimensional art embeddings using an ONNX model.
// The session owns preallocated input/output tensors, so concurrent calls
// are serialized on a mutex.
type Embedder struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewEmbedder loads the embedding model. opts may be nil (ORT defaults) or a
// pre-configured *ort.SessionOptions.
func NewEmbedder(modelPath string, opts *ort.SessionOptions) (*Embedder, error) {
	inputShape := ort.NewShape(1, 3, embedInputSize, embedInputSize)
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, EmbeddingDim)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"},
		[]string{"output"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &Embedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Embed computes the L2-normalized art embedding of a canonical card image.
// The boolean is false when the image cannot be decoded or inference fails.
func (e *Embedder) Embed(canonical []byte) ([]float32, bool) {
	img, err := decodeImage(canonical)
	if err != nil {
		return nil, false
	}

	art := cropArtRegion(img)
	resized := imaging.Resize(art, embedInputSize, embedInputSize, imaging.Linear)
	input := imageToCHW(resized, imagenetMean, imagenetStd)

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.inputTensor.GetData(), input)
	if err := e.session.Run(); err != nil {
		return nil, false
	}

	embedding := make([]float32, EmbeddingDim)
	copy(embedding, e.outputTensor.GetData())
	normalize(embedding)
	return embedding, true
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}

// cropArtRegion extracts the illustration using proportional offsets, so it
// behaves sensibly even if the input deviates from the canonical size.
func cropArtRegion(img image.Image) image.Image {
	bounds := img.Bounds()
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	rect := image.Rect(
		bounds.Min.X+int(artLeft*w),
		bounds.Min.Y+int(artTop*h),
		bounds.Min.X+int(artRight*w),
		bounds.Min.Y+int(artBottom*h),
	)
	return imaging.Crop(img, rect)
}

// normalize performs L2 normalization in-place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
