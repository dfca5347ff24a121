package utils

import (
	"fmt"
	"strings"
	"time"
)

// LoadLocation 解析配置中的时区名称
// 支持 IANA 名称、Local、UTC 以及 UTC+8 / UTC-3 这类固定偏移
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	switch strings.ToUpper(name) {
	case "", "LOCAL":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}

	if strings.HasPrefix(strings.ToUpper(name), "UTC") && len(name) > 3 {
		var hours int
		if _, err := fmt.Sscanf(name[3:], "%d", &hours); err == nil && hours >= -12 && hours <= 14 {
			return time.FixedZone(strings.ToUpper(name), hours*3600), nil
		}
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("加载时区 %s 失败: %w", name, err)
	}
	return loc, nil
}
