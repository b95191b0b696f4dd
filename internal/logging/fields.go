package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供站点、请求分类与命中状态字段，供离线代理日志复用。
func RequestFields(site, domain, class, strategy string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"site":      site,
		"domain":    domain,
		"class":     class,
		"strategy":  strategy,
		"cache_hit": cacheHit,
	}
}

// LifecycleFields 描述 worker 生命周期事件。
func LifecycleFields(site, version, state string) logrus.Fields {
	return logrus.Fields{
		"action":  "lifecycle",
		"site":    site,
		"version": version,
		"state":   state,
	}
}
