package server

import (
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"

	"github.com/imagen-apex/apex/internal/model"
	"github.com/imagen-apex/apex/internal/utils/imageutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultSeed int64 = 42

type PredictRequest struct {
	Image string `json:"image"`
	Mask  string `json:"mask"`
	Seed  *int64 `json:"seed"`
}

type PredictResponse struct {
	PLY    string `json:"ply"`
	Status string `json:"status"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		ModelLoaded: s.manager.Loaded(),
	})
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "SAM 3D Objects API",
		"version": "1.0.0",
		"auth":    "API key required",
	})
}

func (s *Server) predict(c *gin.Context) {
	ctx := c.Request.Context()
	log := s.logger.With(zap.String("request_id", c.GetString(requestIDKey)))

	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithDetail(c, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	seed := defaultSeed
	if req.Seed != nil {
		seed = *req.Seed
	}

	if _, err := s.manager.Ensure(ctx); err != nil {
		abortWithDetail(c, http.StatusServiceUnavailable, fmt.Sprintf("Model not loaded: %v", err))
		return
	}

	img, err := imageutil.DecodeBase64Image(req.Image)
	if err != nil {
		abortWithDetail(c, http.StatusBadRequest, fmt.Sprintf("Failed to decode image: %v", err))
		return
	}
	log.Info("Received image", zap.Int("width", img.Bounds().Dx()), zap.Int("height", img.Bounds().Dy()))

	var mask *image.Gray
	if req.Mask != "" {
		mask, err = imageutil.DecodeBase64Mask(req.Mask)
		if err != nil {
			abortWithDetail(c, http.StatusBadRequest, fmt.Sprintf("Failed to decode mask: %v", err))
			return
		}
		log.Info("Received mask", zap.Int("width", mask.Bounds().Dx()), zap.Int("height", mask.Bounds().Dy()))
	} else {
		mask = imageutil.FullMask(img.Bounds().Dx(), img.Bounds().Dy())
		log.Info("Using full-image mask")
	}

	encoded, err := s.runPrediction(c, img, mask, seed)
	if err != nil {
		log.Error("Prediction failed", zap.Int64("seed", seed), zap.Error(err))
		if errors.Is(err, model.ErrModelUnavailable) {
			abortWithDetail(c, http.StatusServiceUnavailable, fmt.Sprintf("Model not loaded: %v", err))
			return
		}
		abortWithDetail(c, http.StatusInternalServerError, fmt.Sprintf("Prediction failed: %v", err))
		return
	}

	c.JSON(http.StatusOK, PredictResponse{PLY: encoded, Status: "success"})
}

// runPrediction runs inference and round-trips the result through a scratch
// file that is removed on every path.
func (s *Server) runPrediction(c *gin.Context, img image.Image, mask *image.Gray, seed int64) (string, error) {
	output, err := s.manager.Predict(c.Request.Context(), img, mask, seed)
	if err != nil {
		return "", err
	}

	scratch, err := os.CreateTemp(s.config.TempDir, "predict-*.ply")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch file: %w", err)
	}
	path := scratch.Name()
	scratch.Close()
	defer os.Remove(path)

	if err := output.SavePLY(path); err != nil {
		return "", fmt.Errorf("failed to save PLY: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read PLY: %w", err)
	}

	return imageutil.EncodeBase64(data), nil
}
