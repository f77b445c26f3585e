package rembg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"sync"
	"time"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/chaos-io/imageapp/imgproc"
)

// U²-Net 的输入边长
const u2netSize = 320

// DefaultFetchTimeout 模型下载的超时，和请求超时无关
const DefaultFetchTimeout = 10 * time.Minute

var (
	u2netMean = [3]float32{0.485, 0.456, 0.406}
	u2netStd  = [3]float32{0.229, 0.224, 0.225}
)

// onnxruntime 环境全进程只初始化一次
var (
	ortMu   sync.Mutex
	ortInit bool
)

func initRuntime(libPath string) error {
	ortMu.Lock()
	defer ortMu.Unlock()

	if ortInit {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	ortInit = true
	return nil
}

// U2NetRemBG 本地 U²-Net 抠图，首次使用时下载模型并创建会话
type U2NetRemBG struct {
	modelDir     string
	spec         ModelSpec
	libPath      string
	fetchTimeout time.Duration

	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
}

func NewU2NetRemBG(modelDir string, spec ModelSpec, libPath string) *U2NetRemBG {
	return &U2NetRemBG{
		modelDir:     modelDir,
		spec:         spec,
		libPath:      libPath,
		fetchTimeout: DefaultFetchTimeout,
	}
}

// Warmup 提前下载模型并创建会话
func (u *U2NetRemBG) Warmup(ctx context.Context) error {
	_, err := u.getSession(ctx)
	return err
}

func (u *U2NetRemBG) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	session, err := u.getSession(ctx)
	if err != nil {
		return nil, err
	}

	src := imgproc.Normalize(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("empty image")
	}

	input, err := ort.NewTensor(ort.NewShape(1, 3, u2netSize, u2netSize), u2netInput(src))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer func() {
		_ = input.Destroy()
	}()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, u2netSize, u2netSize))
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer func() {
		_ = output.Destroy()
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("run u2net: %w", err)
	}

	mask := u2netMask(output.GetData(), w, h)
	return applyMask(src, mask), nil
}

// Close 销毁会话，环境保留给进程内的其他会话
func (u *U2NetRemBG) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.session == nil {
		return nil
	}
	err := u.session.Destroy()
	u.session = nil
	return err
}

// getSession 懒加载会话，失败后下一次调用会重试
func (u *U2NetRemBG) getSession(ctx context.Context) (*ort.DynamicAdvancedSession, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.session != nil {
		return u.session, nil
	}

	modelPath, err := u.fetchModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch model: %w", err)
	}
	if err := initRuntime(u.libPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("read model io info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.New("model has no inputs or outputs")
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	u.session = session
	u.inputName = inputs[0].Name
	u.outputName = outputs[0].Name
	slog.Info("u2net session ready", "model", modelPath, "input", u.inputName, "output", u.outputName)
	return session, nil
}

// fetchModel 下载不跟随调用方取消，请求超时后下载继续完成并写入缓存
func (u *U2NetRemBG) fetchModel(ctx context.Context) (string, error) {
	timeout := u.fetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return FetchModel(fetchCtx, u.modelDir, u.spec)
}

// u2netInput 生成 NCHW 输入
//
//	去掉 alpha，Lanczos 缩放到 320x320
//	除以全图最大值，再按 ImageNet 均值/方差归一化
func u2netInput(src *image.NRGBA) []float32 {
	opaque := image.NewNRGBA(src.Bounds())
	copy(opaque.Pix, src.Pix)
	for i := 3; i < len(opaque.Pix); i += 4 {
		opaque.Pix[i] = 255
	}
	small := imgproc.Normalize(resize.Resize(u2netSize, u2netSize, opaque, resize.Lanczos3))

	var maxVal uint8
	for i := 0; i < len(small.Pix); i += 4 {
		maxVal = max(maxVal, small.Pix[i], small.Pix[i+1], small.Pix[i+2])
	}
	scale := float32(1e-6)
	if maxVal > 0 {
		scale = float32(maxVal)
	}

	plane := u2netSize * u2netSize
	data := make([]float32, 3*plane)
	for y := 0; y < u2netSize; y++ {
		for x := 0; x < u2netSize; x++ {
			p := small.Pix[y*small.Stride+x*4:]
			idx := y*u2netSize + x
			for c := 0; c < 3; c++ {
				data[c*plane+idx] = (float32(p[c])/scale - u2netMean[c]) / u2netStd[c]
			}
		}
	}
	return data
}

// u2netMask 把预测结果 min-max 归一化成灰度图，再缩放回原尺寸
func u2netMask(pred []float32, w, h int) *image.Gray {
	plane := pred[:u2netSize*u2netSize]

	lo, hi := plane[0], plane[0]
	for _, v := range plane {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	span := hi - lo

	small := image.NewGray(image.Rect(0, 0, u2netSize, u2netSize))
	for i, v := range plane {
		n := float32(0)
		if span > 0 {
			n = (v - lo) / span
		}
		small.Pix[i] = uint8(n * 255)
	}

	resized := resize.Resize(uint(w), uint(h), small, resize.Lanczos3)
	if g, ok := resized.(*image.Gray); ok {
		return g
	}
	g := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(g, g.Bounds(), resized, resized.Bounds().Min, draw.Src)
	return g
}

// applyMask 保留原图颜色，alpha = mask × 原 alpha
func applyMask(src *image.NRGBA, mask *image.Gray) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(b)
	copy(dst.Pix, src.Pix)
	for y := 0; y < b.Dy(); y++ {
		row := y * dst.Stride
		mrow := y * mask.Stride
		for x := 0; x < b.Dx(); x++ {
			i := row + x*4 + 3
			dst.Pix[i] = uint8(uint32(dst.Pix[i]) * uint32(mask.Pix[mrow+x]) / 255)
		}
	}
	return dst
}
