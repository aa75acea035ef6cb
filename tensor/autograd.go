package tensor

import (
	"fmt"
)

// Backward runs reverse-mode differentiation from a single-element tensor.
// Gradients are accumulated into the Grad of every leaf that requires grad;
// intermediate gradients are discarded once the pass completes.
func (t *Tensor) Backward() error {
	if !t.requiresGrad {
		return fmt.Errorf("backward: tensor does not require grad")
	}
	if t.NumElems != 1 {
		return fmt.Errorf("backward: root must have a single element, got shape %v", t.Shape)
	}

	order := topoSort(t)
	seed := newResult(t.Shape)
	seed.Data[0] = 1
	grads := map[*Tensor]*Tensor{t: seed}

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		g, ok := grads[node]
		if !ok {
			continue
		}
		delete(grads, node)

		if node.creator == nil {
			node.accumulateGrad(g)
			continue
		}

		inputs := node.creator.Inputs()
		inGrads, err := node.creator.Backward(g)
		if err != nil {
			return fmt.Errorf("backward through %s: %w", node.creator.Name(), err)
		}
		if len(inGrads) != len(inputs) {
			return fmt.Errorf("backward through %s: %d gradients for %d inputs", node.creator.Name(), len(inGrads), len(inputs))
		}
		for j, in := range inputs {
			ig := inGrads[j]
			if in == nil || ig == nil || !in.requiresGrad {
				continue
			}
			if ig.NumElems != in.NumElems {
				return fmt.Errorf("backward through %s: gradient %v for input %v: %w", node.creator.Name(), ig.Shape, in.Shape, ErrShapeMismatch)
			}
			if prev, ok := grads[in]; ok {
				// Op gradients may alias each other, so sum into a fresh buffer.
				grads[in] = addData(prev, ig)
			} else {
				grads[in] = ig
			}
		}
	}
	return nil
}

func (t *Tensor) accumulateGrad(g *Tensor) {
	if t.grad == nil {
		t.grad = &Tensor{
			Shape:    append([]int(nil), t.Shape...),
			Strides:  append([]int(nil), t.Strides...),
			Data:     append([]float32(nil), g.Data...),
			NumElems: t.NumElems,
		}
		return
	}
	for i, v := range g.Data {
		t.grad.Data[i] += v
	}
}

// topoSort returns the grad-requiring subgraph below root in post-order, so
// every node appears after all of its inputs.
func topoSort(root *Tensor) []*Tensor {
	type frame struct {
		node *Tensor
		next int
	}
	var order []*Tensor
	visited := map[*Tensor]bool{root: true}
	stack := []frame{{node: root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		var inputs []*Tensor
		if top.node.creator != nil {
			inputs = top.node.creator.Inputs()
		}
		if top.next < len(inputs) {
			in := inputs[top.next]
			top.next++
			if in != nil && in.requiresGrad && !visited[in] {
				visited[in] = true
				stack = append(stack, frame{node: in})
			}
			continue
		}
		order = append(order, top.node)
		stack = stack[:len(stack)-1]
	}
	return order
}

func addData(a, b *Tensor) *Tensor {
	out := newResult(a.Shape)
	for i := range out.Data {
		out.Data[i] = a.Data[i] + b.Data[i]
	}
	return out
}
