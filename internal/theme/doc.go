// Package theme 实现浅色/深色主题切换：读取持久化偏好、设置页面属性并同步切换图标样式。
package theme
