package controllers

import (
	"fmt"
	"net/http"
	"regexp"

	"github.com/angelmondragon/cocledger-backend/api/responses"
	"github.com/angelmondragon/cocledger-backend/api/validators"
	"github.com/angelmondragon/cocledger-backend/internal/reports"
	pkgerrors "github.com/angelmondragon/cocledger-backend/pkg/errors"
	"github.com/angelmondragon/cocledger-backend/pkg/logger"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func StockReport(svc reports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reports unavailable"))
			return
		}
		material := validators.SanitizeString(r.URL.Query().Get("material"), maxNameLen)
		data, err := svc.StockWorkbook(ctx, material)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		name := "coc-stock.xlsx"
		if material != "" {
			name = fmt.Sprintf("coc-stock-%s.xlsx", safeFilename(material))
		}
		responses.WriteFile(w, reports.ContentType, name, data)
	}
}

func UsageReport(svc reports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reports unavailable"))
			return
		}
		pdi, err := validators.RequireQuery(r, "pdi", maxPDILen)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		data, err := svc.UsageWorkbook(ctx, pdi)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteFile(w, reports.ContentType, fmt.Sprintf("coc-usage-%s.xlsx", safeFilename(pdi)), data)
	}
}

func safeFilename(value string) string {
	return unsafeFilenameChars.ReplaceAllString(value, "_")
}
