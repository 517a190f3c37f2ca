package mid_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/healthchain/ledger/business/web/errs"
	"github.com/healthchain/ledger/business/web/mid"
	"github.com/healthchain/ledger/foundation/logger"
	"github.com/healthchain/ledger/foundation/web"
	"github.com/stretchr/testify/require"
)

func Test_Middleware(t *testing.T) {
	log, err := logger.New("TEST", os.DevNull)
	require.NoError(t, err)

	app := web.NewApp(make(chan os.Signal, 1), mid.Logger(log), mid.Errors(log), mid.Metrics(), mid.Cors("*"), mid.Panics())

	app.Handle(http.MethodGet, "v1", "/ok", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return web.Respond(ctx, w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	app.Handle(http.MethodGet, "v1", "/trusted", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return errs.NewTrusted(errors.New("tx not found"), http.StatusNotFound)
	})
	app.Handle(http.MethodGet, "v1", "/block/:height", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return errs.BadRequest("height %q is not a number", web.Param(r, "height"))
	})
	app.Handle(http.MethodGet, "v1", "/panic", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		panic("boom")
	})

	tt := []struct {
		name   string
		path   string
		status int
		error  string
	}{
		{"ok", "/v1/ok", http.StatusOK, ""},
		{"trusted", "/v1/trusted", http.StatusNotFound, "tx not found"},
		{"bad-request", "/v1/block/tip", http.StatusBadRequest, `height "tip" is not a number`},
		{"panic", "/v1/panic", http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)},
	}

	for _, tst := range tt {
		t.Run(tst.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tst.path, nil)
			w := httptest.NewRecorder()
			app.ServeHTTP(w, r)

			require.Equal(t, tst.status, w.Code)
			require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
			require.Equal(t, "GET, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))

			if tst.error != "" {
				var resp errs.Response
				require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
				require.Equal(t, tst.error, resp.Error)
			}
		})
	}
}
