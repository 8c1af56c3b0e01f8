package tutor

import (
	"context"
	"strings"
)

type topic struct {
	keywords []string
	answer   string
}

var demoTopics = []topic{
	{
		keywords: []string{"latency", "slow", "ttft", "lag"},
		answer:   "Latency (TTFT) spikes when the network is saturated or during the compute-heavy 'Prefill' phase. Check the network utilization of the nodes or try upgrading to 400G InfiniBand.",
	},
	{
		keywords: []string{"vram", "memory", "oom", "capacity"},
		answer:   "VRAM holds the active model weights and the dynamic KV Cache. If usage hits 100% the node is over-committed and flagged as an error. Add more nodes or switch to a smaller model (e.g., TinyLlama).",
	},
	{
		keywords: []string{"throughput", "speed", "fast", "token"},
		answer:   "Throughput (Tokens/sec) scales with the number of worker nodes. However, single-request generation speed is limited by the specific GPU type (e.g., H100 is ~3x faster than A100).",
	},
	{
		keywords: []string{"network", "bandwidth", "eth", "ib"},
		answer:   "Network bandwidth is the main bottleneck for Distributed Inference (TP). If you run Llama-405B on 10G Ethernet, the synchronization overhead will crush performance.",
	},
	{
		keywords: []string{"cost", "billing", "money", "price"},
		answer:   "Cost is calculated based on active GPU hours. Newer GPUs like H100s cost more per hour but process tokens significantly faster, often resulting in a lower cost per 1k tokens.",
	},
	{
		keywords: []string{"ray", "head", "scheduler"},
		answer:   "Ray serves as the cluster operating system. The Head Node maintains the global state and schedules tasks onto Worker Nodes based on their real-time resource availability.",
	},
}

// DefaultDemoAnswer is returned when no topic matches.
const DefaultDemoAnswer = "That's a great question about AI Infrastructure. In this simulation, try experimenting with different placement strategies to see how they affect cluster efficiency and latency."

// DemoTutor answers from a fixed keyword table without any network access.
// Topics are matched in order; the first hit wins.
type DemoTutor struct{}

// Ask implements Tutor.
func (DemoTutor) Ask(ctx context.Context, question, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	q := strings.ToLower(question)
	for _, t := range demoTopics {
		for _, kw := range t.keywords {
			if strings.Contains(q, kw) {
				return t.answer, nil
			}
		}
	}
	return DefaultDemoAnswer, nil
}
