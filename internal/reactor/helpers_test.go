package reactor

import "github.com/YuanQin2000/datax/internal/status"

func statusInactive() error { return status.Inactive }
