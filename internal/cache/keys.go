package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// JobKey is where a job's mirrored snapshot lives.
func JobKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

// PresignedURLKey hashes the object key so arbitrary paths stay bounded in length.
func PresignedURLKey(bucket, objectKey string) string {
	sum := sha256.Sum256([]byte(objectKey))
	return fmt.Sprintf("presign:%s:%s", bucket, hex.EncodeToString(sum[:16]))
}

func RateLimitKey(clientID string) string {
	return fmt.Sprintf("ratelimit:%s", clientID)
}
