package api

//go:generate oapi-codegen --config=cfg.yaml ../../openapi.yaml
