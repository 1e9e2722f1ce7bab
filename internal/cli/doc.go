// Package cli 实现交互式命令行：逐行读取输入，内置命令直接处理，其余交给命令流水线执行。
package cli
