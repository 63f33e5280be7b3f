package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/models"
)

// deriveKey collapses retries of one checkout into a single key: the same
// user, cart state and payment method inside one time window.
func deriveKey(user primitive.ObjectID, cart *models.Cart, method models.PaymentMethod, now time.Time, window time.Duration) string {
	bucket := now.Truncate(window).Unix()

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d", user.Hex(), cartFingerprint(cart), method, bucket)
	return hex.EncodeToString(h.Sum(nil))
}

// cartFingerprint is independent of line order.
func cartFingerprint(cart *models.Cart) string {
	parts := make([]string, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		parts = append(parts, fmt.Sprintf("%s/%s/%s/%d/%.2f", line.Product.Hex(), line.Size, line.Color, line.Quantity, line.Price))
	}
	sort.Strings(parts)
	return fmt.Sprintf("v%d:%s", cart.Version, strings.Join(parts, ","))
}
