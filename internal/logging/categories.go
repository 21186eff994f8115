package logging

// Per-category convenience functions. Hot paths call these instead of
// Get(...).Info so call sites stay one line.

func Supervisor(format string, args ...interface{}) { Get(CategorySupervisor).Info(format, args...) }

func SupervisorDebug(format string, args ...interface{}) {
	Get(CategorySupervisor).Debug(format, args...)
}

func Engine(format string, args ...interface{}) { Get(CategoryEngine).Info(format, args...) }

func EngineDebug(format string, args ...interface{}) { Get(CategoryEngine).Debug(format, args...) }

func Scheduler(format string, args ...interface{}) { Get(CategoryScheduler).Info(format, args...) }

func SchedulerDebug(format string, args ...interface{}) {
	Get(CategoryScheduler).Debug(format, args...)
}

func Evolution(format string, args ...interface{}) { Get(CategoryEvolution).Info(format, args...) }

func EvolutionDebug(format string, args ...interface{}) {
	Get(CategoryEvolution).Debug(format, args...)
}

func Dream(format string, args ...interface{}) { Get(CategoryDream).Info(format, args...) }

func DreamDebug(format string, args ...interface{}) { Get(CategoryDream).Debug(format, args...) }

func Coder(format string, args ...interface{}) { Get(CategoryCoder).Info(format, args...) }

func CoderDebug(format string, args ...interface{}) { Get(CategoryCoder).Debug(format, args...) }

func Sanitize(format string, args ...interface{}) { Get(CategorySanitize).Info(format, args...) }

func Apply(format string, args ...interface{}) { Get(CategoryApply).Info(format, args...) }

func ApplyDebug(format string, args ...interface{}) { Get(CategoryApply).Debug(format, args...) }

func TestRun(format string, args ...interface{}) { Get(CategoryTestRun).Info(format, args...) }

func Git(format string, args ...interface{}) { Get(CategoryGit).Info(format, args...) }

func GitDebug(format string, args ...interface{}) { Get(CategoryGit).Debug(format, args...) }

func Journal(format string, args ...interface{}) { Get(CategoryJournal).Info(format, args...) }

func Vector(format string, args ...interface{}) { Get(CategoryVector).Info(format, args...) }

func VectorDebug(format string, args ...interface{}) { Get(CategoryVector).Debug(format, args...) }

func FactCore(format string, args ...interface{}) { Get(CategoryFactCore).Info(format, args...) }

func FactCoreDebug(format string, args ...interface{}) { Get(CategoryFactCore).Debug(format, args...) }

func KV(format string, args ...interface{}) { Get(CategoryKV).Info(format, args...) }

func Telegram(format string, args ...interface{}) { Get(CategoryTelegram).Info(format, args...) }

func TelegramDebug(format string, args ...interface{}) { Get(CategoryTelegram).Debug(format, args...) }

func Attention(format string, args ...interface{}) { Get(CategoryAttention).Info(format, args...) }

func Meta(format string, args ...interface{}) { Get(CategoryMeta).Info(format, args...) }

func MetaDebug(format string, args ...interface{}) { Get(CategoryMeta).Debug(format, args...) }

func Reflex(format string, args ...interface{}) { Get(CategoryReflex).Info(format, args...) }

func ReflexDebug(format string, args ...interface{}) { Get(CategoryReflex).Debug(format, args...) }

func Temporal(format string, args ...interface{}) { Get(CategoryTemporal).Debug(format, args...) }

func Resource(format string, args ...interface{}) { Get(CategoryResource).Info(format, args...) }

func Embedding(format string, args ...interface{}) { Get(CategoryEmbedding).Info(format, args...) }

func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debug(format, args...)
}

func Guard(format string, args ...interface{}) { Get(CategoryGuard).Info(format, args...) }

func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }
