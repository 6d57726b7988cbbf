// Package strategy 聚合请求级缓存策略（cache-first / network-first），并提供统一的注册入口。
//
// 策略作者需要：
//  1. 实现 Strategy 接口，只依赖 Env 中注入的网络与 bucket 能力；
//  2. 在 init() 中通过 MustRegister 注册，键值全局唯一；
//  3. 网络失败时按策略语义决定是否回退缓存，不得自行重试。
//
// 该包同时向诊断端暴露策略元数据。
package strategy
