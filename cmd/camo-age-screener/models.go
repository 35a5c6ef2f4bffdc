package main

import (
	"errors"
	"fmt"

	"github.com/menta2k/camo-age-screener/internal/config"
	"github.com/menta2k/camo-age-screener/pkg/dnn"
	"github.com/menta2k/camo-age-screener/pkg/inference"
	"github.com/menta2k/camo-age-screener/pkg/vlm"
)

// models bundles the two loaded models with their cleanup
type models struct {
	Ages    inference.AgeDetector
	Camo    inference.CamoClassifier
	closers []func() error
}

func (m *models) Close() error {
	var errs []error
	for _, c := range m.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func loadModels(cfg *config.Config) (*models, error) {
	switch cfg.Models.Backend {
	case config.BackendDNN:
		return loadDNN(cfg.Models)
	case config.BackendOllama, config.BackendLlamaCpp:
		return loadVLM(cfg.Models.Backend, cfg.VLM)
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Models.Backend)
	}
}

func loadDNN(mc config.ModelsConfig) (*models, error) {
	ages, err := dnn.NewAgeDetector(dnn.FaceAgeConfig{
		FacePrototxt:   mc.FacePrototxt,
		FaceWeights:    mc.FaceWeights,
		AgePrototxt:    mc.AgePrototxt,
		AgeWeights:     mc.AgeWeights,
		FaceConfidence: mc.FaceConfidence,
		MinFaceSize:    mc.MinFaceSize,
	})
	if err != nil {
		return nil, err
	}

	camoCfg := dnn.DefaultCamoConfig()
	camoCfg.Model = mc.CamoModel
	camoCfg.Config = mc.CamoConfig
	camo, err := dnn.NewCamoClassifier(camoCfg)
	if err != nil {
		ages.Close()
		return nil, err
	}

	return &models{
		Ages:    ages,
		Camo:    camo,
		closers: []func() error{ages.Close, camo.Close},
	}, nil
}

func loadVLM(backend string, vc config.VLMConfig) (*models, error) {
	client, err := vlm.NewClient(backend, vc.URL)
	if err != nil {
		return nil, err
	}

	cfg := vlm.Config{
		Model:    vc.Model,
		SendSize: vc.SendSize,
		Quality:  vc.SendQuality,
	}
	return &models{
		Ages: vlm.NewAgeDetector(client, cfg),
		Camo: vlm.NewCamoClassifier(client, cfg),
	}, nil
}
