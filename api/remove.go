package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/imageapp/imgproc"
	"github.com/chaos-io/imageapp/metrics"
	"github.com/chaos-io/imageapp/pipeline"
	"github.com/chaos-io/imageapp/upload"
	"github.com/chaos-io/imageapp/worker"
)

var allowedExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"webp": {},
}

func allowedFile(filename string) bool {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return false
	}
	_, ok := allowedExtensions[strings.ToLower(filename[i+1:])]
	return ok
}

func (h *Handler) RemoveBackground(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		if isTooLarge(err) {
			respondError(c, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		respondError(c, http.StatusBadRequest, "No image uploaded")
		return
	}
	defer func() {
		_ = form.RemoveAll()
	}()

	files := form.File["image"]
	if len(files) == 0 {
		respondError(c, http.StatusBadRequest, "No image uploaded")
		return
	}
	fh := files[0]
	if fh.Filename == "" || !allowedFile(fh.Filename) {
		respondError(c, http.StatusBadRequest, "Invalid file format")
		return
	}

	req, status, msg := h.parseRemoveRequest(c, form)
	if status != 0 {
		respondError(c, status, msg)
		return
	}

	saved, err := h.saveUpload(fh)
	if err != nil {
		h.logger.Error("save upload failed", "err", err)
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	defer func() {
		_ = saved.Cleanup()
	}()

	metrics.JobsInflight.Inc()
	out, err := worker.Do(c.Request.Context(), h.pool, h.opts.RemoveTimeout, func(ctx context.Context) ([]byte, error) {
		return h.process(ctx, saved.Path, req)
	})
	metrics.JobsInflight.Dec()
	metrics.RecordJob(metrics.JobRemove, jobResult(err))

	if err != nil {
		if errors.Is(err, imgproc.ErrImageTooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "Image too large")
			return
		}
		if errors.Is(err, worker.ErrTimeout) {
			h.logger.Error("image processing timeout", "file", fh.Filename)
			respondError(c, http.StatusRequestTimeout, "Processing timeout")
			return
		}
		h.logger.Error("background removal failed", "err", err)
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.Header("Content-Disposition", `attachment; filename="processed.png"`)
	c.Data(http.StatusOK, "image/png", out)
}

// parseRemoveRequest status 非 0 时表示参数错误
func (h *Handler) parseRemoveRequest(c *gin.Context, form *multipart.Form) (pipeline.Options, int, string) {
	req := pipeline.Options{MaxImageSide: h.opts.MaxImageSide}

	shadow, err := pipeline.ParseShadowParams(c.PostForm("shadow_params"))
	if err != nil {
		return req, http.StatusBadRequest, "Invalid shadow_params"
	}
	req.Shadow = shadow

	if req.Crop, err = imgproc.ParseCropMode(c.PostForm("crop")); err != nil {
		return req, http.StatusBadRequest, "Invalid crop"
	}

	resize, err := imgproc.ParseResizeMethod(c.PostForm("resize_method"))
	if err != nil {
		return req, http.StatusBadRequest, "Invalid resize_method"
	}
	req.Background.Resize = resize

	if bgs := form.File["background_image"]; len(bgs) > 0 {
		bg, err := decodeFormImage(bgs[0])
		if errors.Is(err, imgproc.ErrImageTooLarge) {
			return req, http.StatusRequestEntityTooLarge, "Image too large"
		}
		if err != nil {
			return req, http.StatusBadRequest, "Invalid background"
		}
		req.Background.Image = bg
	} else if s := strings.TrimSpace(c.PostForm("background")); s != "" {
		col, err := imgproc.ParseColor(s)
		if err != nil {
			return req, http.StatusBadRequest, "Invalid background"
		}
		req.Background.Color = &col
	}

	if s := c.PostForm("reuse_alpha"); s != "" {
		req.ReuseAlpha, _ = strconv.ParseBool(s)
	}
	return req, 0, ""
}

func decodeFormImage(fh *multipart.FileHeader) (image.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	img, _, err := imgproc.Decode(f)
	return img, err
}

func (h *Handler) saveUpload(fh *multipart.FileHeader) (*upload.File, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return h.store.Save(fh.Filename, f)
}

// process 在 worker 中执行，返回编码后的 PNG
func (h *Handler) process(ctx context.Context, path string, req pipeline.Options) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	src, _, err := imgproc.Decode(f)
	if err != nil {
		return nil, err
	}
	img, err := pipeline.Run(ctx, h.remover, src, req)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imgproc.EncodePNG(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
