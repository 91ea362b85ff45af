// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 workflow 跟踪每个工作单元在视频生产流水线各阶段中的进度。

# 概述

流水线依次经过 script_generation、scene_splitting、image_generation、
scene_description、video_generation、final_assembly 六个阶段。Tracker
为每个工作单元维护一条 State 记录，记录当前阶段、各阶段结果、已完成
阶段列表、分镜状态与整体进度。

# 核心模型

  - State：工作单元的工作流状态，Tracker 对外只返回深拷贝
  - Stage / Status：阶段与状态枚举
  - StateStore：持久化接口，GormStateStore 写入 workflow_states 表，
    MemoryStateStore 作为降级存储与测试存储
  - Tracker：按单元加锁的读改写，结果以写时复制方式发布到快照缓存

# 主要能力

  - 幂等完成：同一阶段多次标记 completed 只会在 CompletedStages 中出现一次
  - 失败处理：阶段失败写入阶段错误并把工作流置为 failed，不推进当前阶段
  - 透明降级：主存储出错时自动切换到内存存储，并以最近一次快照作为种子；
    连续失败达到阈值后熔断，恢复时间到后放行一次探测，主存储恢复后
    较新的降级副本会写回
  - 进度计算：存在分镜时按分镜完成比例，否则按已完成阶段比例

# 使用方式

	tracker := workflow.NewTracker(workflow.NewGormStateStore(db, 5*time.Second),
		workflow.BreakerConfigFrom(cfg.Workflow), logger)
	st, err := tracker.StartWorkflow(ctx, projectID)
	st, err = tracker.UpdateStage(ctx, projectID, workflow.StageScriptGeneration,
		workflow.StatusCompleted, result)
*/
package workflow
