package middlew

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"time"

	"gw-settlement/pkg/response"
)

const (
	signatureHeader = "X-Signature"
	timestampHeader = "X-Timestamp"
)

// maxWebhookBody защита от чрезмерно больших тел вебхуков
const maxWebhookBody = 1 << 20

// maxTimestampSkew допустимое расхождение часов отправителя с нашими.
// Ограничивает окно повторного проигрывания перехваченного вебхука.
const maxTimestampSkew = 5 * time.Minute

// VerifyWebhookSignature проверяет HMAC-SHA256 подпись вебхука. Провайдер
// подписывает строку "<unix-секунды>.<сырое тело>"; подпись передается
// hex-строкой в заголовке X-Signature, момент подписи в X-Timestamp.
// Сравнение за константное время, устаревшая метка отклоняется.
func VerifyWebhookSignature(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := GetLogger(r.Context())

			sigHex := r.Header.Get(signatureHeader)
			if sigHex == "" {
				response.WriteJSONError(w, log, http.StatusUnauthorized, "missing_signature", "X-Signature header is required")
				return
			}

			sig, err := hex.DecodeString(sigHex)
			if err != nil {
				response.WriteJSONError(w, log, http.StatusUnauthorized, "invalid_signature", "Malformed signature")
				return
			}

			tsRaw := r.Header.Get(timestampHeader)
			if tsRaw == "" {
				response.WriteJSONError(w, log, http.StatusUnauthorized, "missing_timestamp", "X-Timestamp header is required")
				return
			}
			ts, err := strconv.ParseInt(tsRaw, 10, 64)
			if err != nil {
				response.WriteJSONError(w, log, http.StatusUnauthorized, "invalid_timestamp", "Malformed timestamp")
				return
			}
			skew := time.Since(time.Unix(ts, 0))
			if skew < -maxTimestampSkew || skew > maxTimestampSkew {
				log.Warn("метка времени вебхука вне допустимого окна",
					"timestamp", tsRaw)
				response.WriteJSONError(w, log, http.StatusUnauthorized, "stale_timestamp", "Timestamp outside accepted window")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
			if err != nil {
				response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_body", "Failed to read request body")
				return
			}
			r.Body.Close()

			mac := hmac.New(sha256.New, key)
			mac.Write([]byte(tsRaw))
			mac.Write([]byte("."))
			mac.Write(body)
			expected := mac.Sum(nil)

			if !hmac.Equal(sig, expected) {
				log.Warn("подпись вебхука не прошла проверку")
				response.WriteJSONError(w, log, http.StatusUnauthorized, "invalid_signature", "Signature verification failed")
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
