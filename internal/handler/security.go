package handler

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
)

// authenticate resolves the api_key header into the request principal.
// Requests without a key run as guests; a key that does not authenticate is
// rejected outright.
func (h *Handler) authenticate(api huma.API) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		key := ctx.Header(APIKeyHeader)
		if key == "" {
			next(huma.WithContext(ctx, auth.WithPrincipal(ctx.Context(), auth.Guest)))
			return
		}

		p, err := h.authn.Authenticate(ctx.Context(), key)
		switch {
		case errors.Is(err, auth.ErrUnauthorized):
			_ = huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid api key")
			return
		case err != nil:
			zctx.From(ctx.Context()).Error("Authenticate", zap.Error(err))
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			return
		}

		ctx = huma.WithContext(ctx, auth.WithPrincipal(ctx.Context(), p))
		next(ctx)
	}
}
