package middleware

import (
	"bytes"
	"encoding/json"
	"html"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
)

// SanitizeJSONMiddleware strips markup from every string of a JSON body.
// Nested objects and arrays are walked as well; top-level keys listed in raw are left untouched.
func SanitizeJSONMiddleware(raw ...string) gin.HandlerFunc {
	policy := bluemonday.StrictPolicy()
	skip := make(map[string]struct{}, len(raw))
	for _, key := range raw {
		skip[key] = struct{}{}
	}
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost &&
			c.Request.Method != http.MethodPut &&
			c.Request.Method != http.MethodPatch {
			c.Next()
			return
		}

		buf, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid body"})
			return
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			c.Request.Body = io.NopCloser(bytes.NewReader(buf))
			c.Next()
			return
		}

		var body any
		decoder := json.NewDecoder(bytes.NewReader(buf))
		decoder.UseNumber()
		if err := decoder.Decode(&body); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Malformed JSON"})
			return
		}

		if object, ok := body.(map[string]any); ok {
			for key, value := range object {
				if _, keep := skip[key]; !keep {
					object[key] = sanitizeValue(policy, value)
				}
			}
		} else {
			body = sanitizeValue(policy, body)
		}

		cleaned, err := json.Marshal(body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Malformed JSON"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(cleaned))
		c.Request.ContentLength = int64(len(cleaned))

		c.Next()
	}
}

func sanitizeValue(policy *bluemonday.Policy, value any) any {
	switch v := value.(type) {
	case string:
		return plainText(policy, v)
	case map[string]any:
		for key, item := range v {
			v[key] = sanitizeValue(policy, item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = sanitizeValue(policy, item)
		}
		return v
	default:
		return v
	}
}

// plainText strips markup and returns the unescaped text. Entities that decode
// into new markup are stripped on the next round.
func plainText(policy *bluemonday.Policy, value string) string {
	for i := 0; i < 4; i++ {
		text := html.UnescapeString(policy.Sanitize(value))
		if policy.Sanitize(text) == html.EscapeString(text) {
			return text
		}
		value = text
	}
	return policy.Sanitize(value)
}
