// Package dispatch 在账号池之上执行请求：逐个账号尝试，直到成功或所有账号都失败。
package dispatch
