package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 origin/domain/策略/命中状态字段，供网关请求日志复用。
func RequestFields(origin, domain, strategy, class string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"origin":    origin,
		"domain":    domain,
		"strategy":  strategy,
		"class":     class,
		"cache_hit": cacheHit,
	}
}

// LifecycleFields 描述 worker 版本与生命周期状态。
func LifecycleFields(version, state string) logrus.Fields {
	return logrus.Fields{
		"cache_version": version,
		"worker_state":  state,
	}
}
