package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/imageapp/generator"
	"github.com/chaos-io/imageapp/metrics"
	"github.com/chaos-io/imageapp/worker"
)

const maxPromptRunes = 1000

// parsePrompt 返回错误提示，空串表示合法
func parsePrompt(body []byte) (string, string) {
	var data map[string]json.RawMessage
	if err := json.Unmarshal(body, &data); err != nil || data == nil {
		return "", "No prompt provided"
	}
	raw, ok := data["prompt"]
	if !ok {
		return "", "No prompt provided"
	}

	var prompt string
	if err := json.Unmarshal(raw, &prompt); err != nil {
		return "", "Invalid prompt"
	}
	if strings.TrimSpace(prompt) == "" || utf8.RuneCountInString(prompt) > maxPromptRunes {
		return "", "Invalid prompt"
	}
	return prompt, ""
}

func (h *Handler) GenerateImage(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		if isTooLarge(err) {
			respondError(c, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		respondError(c, http.StatusBadRequest, "No prompt provided")
		return
	}

	prompt, msg := parsePrompt(body)
	if msg != "" {
		respondError(c, http.StatusBadRequest, msg)
		return
	}

	metrics.JobsInflight.Inc()
	imageURL, err := worker.Do(c.Request.Context(), h.pool, h.opts.GenerateTimeout, func(ctx context.Context) (string, error) {
		return h.generator.Generate(ctx, prompt)
	})
	metrics.JobsInflight.Dec()
	metrics.RecordJob(metrics.JobGenerate, jobResult(err))

	switch {
	case errors.Is(err, generator.ErrNotConfigured):
		respondError(c, http.StatusServiceUnavailable, "Image generation is not configured")
		return
	case errors.Is(err, worker.ErrTimeout):
		h.logger.Error("image generation timeout")
		respondError(c, http.StatusRequestTimeout, "Generation timeout")
		return
	case err != nil:
		h.logger.Error("image generation failed", "err", err)
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	if imageURL == "" {
		respondError(c, http.StatusInternalServerError, "Failed to generate image")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"image_url": imageURL,
	})
}
