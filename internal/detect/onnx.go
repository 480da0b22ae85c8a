package detect

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"log"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"

	"github.com/technosupport/ts-nvr/internal/stream"
)

const ssdInputSize = 320

// cocoLabels maps SSD/COCO class ids to our label vocabulary. Classes
// outside the map are reported as-is from cocoRaw so the allow-list can
// still match them.
var cocoLabels = map[int]string{
	1:  "person",
	2:  "bicycle",
	3:  "car",
	4:  "motorcycle",
	6:  "bus",
	8:  "truck",
	16: "bird",
	17: "cat",
	18: "dog",
	27: "bag", // backpack
	31: "bag", // handbag
}

var ortInitOnce sync.Once
var ortInitErr error

// ONNXDetector is the closed-vocabulary backend: an SSD-style model run
// in-process through ONNX Runtime. Fast, fixed label set.
type ONNXDetector struct {
	modelPath string

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
}

// NewONNXDetector loads the model. libraryPath points at the ONNX Runtime
// shared library; empty means the platform default search path.
func NewONNXDetector(modelPath, libraryPath string) (*ONNXDetector, error) {
	ortInitOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", ortInitErr)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input_tensor"},
		[]string{"detection_boxes", "detection_classes", "detection_scores", "num_detections"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", modelPath, err)
	}
	log.Printf("Detector: loaded ONNX model %s", modelPath)
	return &ONNXDetector{modelPath: modelPath, session: session}, nil
}

func (d *ONNXDetector) Name() string { return "onnx" }

func (d *ONNXDetector) Detect(ctx context.Context, frame *stream.Frame) (*Result, error) {
	img, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	pixels := letterbox(img, ssdInputSize)
	input, err := ort.NewTensor(ort.NewShape(1, ssdInputSize, ssdInputSize, 3), pixels)
	if err != nil {
		return nil, fmt.Errorf("build input tensor: %w", err)
	}
	defer input.Destroy()

	start := time.Now()

	// One inference at a time per session; ORT sessions are not safe for
	// concurrent Run with shared output buffers.
	d.mu.Lock()
	outputs := make([]ort.Value, 4)
	err = d.session.Run([]ort.Value{input}, outputs)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	boxes := outputs[0].(*ort.Tensor[float32]).GetData()
	classes := outputs[1].(*ort.Tensor[float32]).GetData()
	scores := outputs[2].(*ort.Tensor[float32]).GetData()
	num := int(outputs[3].(*ort.Tensor[float32]).GetData()[0])

	var objects []Detection
	for i := 0; i < num && i < len(scores); i++ {
		label, ok := cocoLabels[int(classes[i])]
		if !ok {
			label = fmt.Sprintf("coco_%d", int(classes[i]))
		}
		// SSD box order is [ymin, xmin, ymax, xmax], normalized.
		objects = append(objects, Detection{
			ClassName:  label,
			Confidence: float64(scores[i]),
			BBox: [4]float64{
				float64(boxes[i*4+1]),
				float64(boxes[i*4+0]),
				float64(boxes[i*4+3]),
				float64(boxes[i*4+2]),
			},
		})
	}

	return &Result{
		Objects: objects,
		Metadata: map[string]any{
			"model":        d.modelPath,
			"backend":      d.Name(),
			"inference_ms": time.Since(start).Milliseconds(),
		},
	}, nil
}

func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	return nil
}

// letterbox scales the image to size x size (no aspect preservation; SSD
// boxes are already normalized to the input) and returns RGB uint8 pixels.
func letterbox(src image.Image, size int) []uint8 {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	pixels := make([]uint8, size*size*3)
	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			o := dst.PixOffset(x, y)
			pixels[i] = dst.Pix[o]
			pixels[i+1] = dst.Pix[o+1]
			pixels[i+2] = dst.Pix[o+2]
			i += 3
		}
	}
	return pixels
}
