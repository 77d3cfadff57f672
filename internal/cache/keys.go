package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:status:%s", jobID)
}

func JobProgressKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:progress:%s", jobID)
}
