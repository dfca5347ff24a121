package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ChangeType 变更类型
type ChangeType string

const (
	ChangeTypeAdded    ChangeType = "added"
	ChangeTypeModified ChangeType = "modified"
	ChangeTypeDeleted  ChangeType = "deleted"
)

// ConfigChange 配置变更
type ConfigChange struct {
	Path            string      `json:"path"` // 如 "trading.stop_loss_percent"
	Type            ChangeType  `json:"type"`
	OldValue        interface{} `json:"old_value"`
	NewValue        interface{} `json:"new_value"`
	RequiresRestart bool        `json:"requires_restart"`
}

// ConfigDiff 配置差异
type ConfigDiff struct {
	Changes         []ConfigChange `json:"changes"`
	RequiresRestart bool           `json:"requires_restart"`
}

// 修改后必须重启进程才能生效的配置前缀
var restartPrefixes = []string{
	"app",
	"exchange",
	"signals",
	"trading.monitored_coins",
	"system.base_interval",
	"system.position_check_interval",
	"system.position_state_file",
	"system.timezone",
	"system.stop_timeout",
	"system.monitor_stop_timeout",
	"system.log_file",
	"market_data",
	"gateway",
	"distributed_lock",
	"database",
	"storage",
	"web",
}

// DiffConfig 对比两个配置，生成差异
func DiffConfig(oldConfig, newConfig *Config) *ConfigDiff {
	diff := &ConfigDiff{Changes: []ConfigChange{}}
	diff.compare(reflect.ValueOf(oldConfig), reflect.ValueOf(newConfig), "")

	sort.SliceStable(diff.Changes, func(i, j int) bool {
		return diff.Changes[i].Path < diff.Changes[j].Path
	})
	for _, change := range diff.Changes {
		if change.RequiresRestart {
			diff.RequiresRestart = true
			break
		}
	}
	return diff
}

// HotReloadable 返回可以不重启生效的变更
func (d *ConfigDiff) HotReloadable() []ConfigChange {
	var out []ConfigChange
	for _, c := range d.Changes {
		if !c.RequiresRestart {
			out = append(out, c)
		}
	}
	return out
}

// HasPrefix 是否存在指定前缀下的变更
func (d *ConfigDiff) HasPrefix(prefix string) bool {
	for _, c := range d.Changes {
		if matchPrefix(c.Path, prefix) {
			return true
		}
	}
	return false
}

func (d *ConfigDiff) compare(oldVal, newVal reflect.Value, path string) {
	oldVal = deref(oldVal)
	newVal = deref(newVal)

	switch {
	case !oldVal.IsValid() && !newVal.IsValid():
		return
	case oldVal.IsValid() && !newVal.IsValid():
		d.add(path, ChangeTypeDeleted, oldVal.Interface(), nil)
		return
	case !oldVal.IsValid() && newVal.IsValid():
		d.add(path, ChangeTypeAdded, nil, newVal.Interface())
		return
	case oldVal.Type() != newVal.Type():
		d.add(path, ChangeTypeModified, oldVal.Interface(), newVal.Interface())
		return
	}

	switch oldVal.Kind() {
	case reflect.Struct:
		typ := oldVal.Type()
		for i := 0; i < typ.NumField(); i++ {
			name := strings.Split(typ.Field(i).Tag.Get("yaml"), ",")[0]
			if name == "" || name == "-" {
				continue
			}
			d.compare(oldVal.Field(i), newVal.Field(i), join(path, name))
		}
	case reflect.Map:
		for _, key := range oldVal.MapKeys() {
			d.compare(oldVal.MapIndex(key), newVal.MapIndex(key), join(path, fmt.Sprint(key.Interface())))
		}
		for _, key := range newVal.MapKeys() {
			if !oldVal.MapIndex(key).IsValid() {
				d.add(join(path, fmt.Sprint(key.Interface())), ChangeTypeAdded, nil, newVal.MapIndex(key).Interface())
			}
		}
	case reflect.Slice, reflect.Array:
		// 切片整体比较（币种列表顺序也有意义）
		if !reflect.DeepEqual(oldVal.Interface(), newVal.Interface()) {
			d.add(path, ChangeTypeModified, oldVal.Interface(), newVal.Interface())
		}
	default:
		if !reflect.DeepEqual(oldVal.Interface(), newVal.Interface()) {
			d.add(path, ChangeTypeModified, oldVal.Interface(), newVal.Interface())
		}
	}
}

func (d *ConfigDiff) add(path string, changeType ChangeType, oldValue, newValue interface{}) {
	d.Changes = append(d.Changes, ConfigChange{
		Path:            path,
		Type:            changeType,
		OldValue:        oldValue,
		NewValue:        newValue,
		RequiresRestart: requiresRestart(path),
	})
}

func deref(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func join(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

func matchPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+".")
}

// requiresRestart 判断配置路径是否需要重启
func requiresRestart(path string) bool {
	for _, prefix := range restartPrefixes {
		if matchPrefix(path, prefix) {
			return true
		}
	}
	return false
}
