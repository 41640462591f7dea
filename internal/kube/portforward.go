package kube

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dbbridge/pkg/logging"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"
)

const forwardReadyTimeout = 60 * time.Second

// logWriter relays client-go port-forward output into the structured log.
type logWriter struct {
	subsystem string
	asError   bool
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(strings.TrimSuffix(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		if w.asError {
			logging.Warn(w.subsystem, "%s", line)
		} else {
			logging.Debug(w.subsystem, "%s", line)
		}
	}
	return len(p), nil
}

// Open establishes a port-forward from localhost:localPort to the given
// service's backing pod on remotePort. It blocks until the forward is ready,
// a transport error occurs, or the ready timeout elapses.
//
// localPort must be a concrete port; the tunnel manager's allocator decides
// it before calling here so reconnects can deterministically reuse ports.
func (m *manager) Open(ctx context.Context, namespace, serviceName string, remotePort, localPort int) (*ForwardHandle, error) {
	clientset, restConfig, err := m.getClientset()
	if err != nil {
		return nil, err
	}

	podName, err := resolveTargetPod(ctx, clientset, namespace, serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target pod for %s/%s: %w", namespace, serviceName, err)
	}

	reqURL := clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(namespace).
		Name(podName).
		SubResource("portforward").
		URL()

	transport, upgrader, err := spdy.RoundTripperFor(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create SPDY round tripper: %w", err)
	}
	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, http.MethodPost, reqURL)

	stopChan := make(chan struct{}, 1)
	readyChan := make(chan struct{})
	subsystem := fmt.Sprintf("Forward-%s/%s", namespace, serviceName)

	var outWriter io.Writer = &logWriter{subsystem: subsystem}
	var errWriter io.Writer = &logWriter{subsystem: subsystem, asError: true}

	ports := []string{fmt.Sprintf("%d:%d", localPort, remotePort)}
	addresses := []string{"127.0.0.1"}

	forwarder, err := portforward.NewOnAddresses(dialer, addresses, ports, stopChan, readyChan, outWriter, errWriter)
	if err != nil {
		return nil, fmt.Errorf("failed to create port forwarder: %w", err)
	}

	handle := newForwardHandle(localPort, remotePort, stopChan)
	forwardErr := make(chan error, 1)

	go func() {
		err := forwarder.ForwardPorts()
		if err != nil {
			logging.Warn(subsystem, "forwarding terminated: %v", err)
		}
		select {
		case forwardErr <- err:
		default:
		}
		handle.finish(err)
	}()

	logging.Debug(subsystem, "Forwarding 127.0.0.1:%d -> pod %s:%d", localPort, podName, remotePort)

	select {
	case <-readyChan:
		logging.Info(subsystem, "Port-forward ready on 127.0.0.1:%d", localPort)
		return handle, nil
	case err := <-forwardErr:
		if err == nil {
			err = fmt.Errorf("port-forward closed before becoming ready")
		}
		return nil, err
	case <-ctx.Done():
		close(stopChan)
		return nil, ctx.Err()
	case <-time.After(forwardReadyTimeout):
		close(stopChan)
		return nil, fmt.Errorf("timed out after %s waiting for port-forward to become ready", forwardReadyTimeout)
	}
}

// Close tears down an established forward.
func (m *manager) Close(handle *ForwardHandle) {
	if handle == nil {
		return
	}
	handle.Stop()
}

// resolveTargetPod picks a ready pod backing the named service.
func resolveTargetPod(ctx context.Context, clientset kubernetes.Interface, namespace, serviceName string) (string, error) {
	svc, err := clientset.CoreV1().Services(namespace).Get(ctx, serviceName, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get service %s/%s: %w", namespace, serviceName, err)
	}

	if len(svc.Spec.Selector) == 0 {
		return "", fmt.Errorf("service %s/%s has no selector, cannot find backing pods", namespace, serviceName)
	}

	selector := labels.SelectorFromSet(svc.Spec.Selector)
	podList, err := clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return "", fmt.Errorf("failed to list pods for service %s/%s: %w", namespace, serviceName, err)
	}
	if len(podList.Items) == 0 {
		return "", fmt.Errorf("no pods found for service %s/%s with selector %s", namespace, serviceName, selector.String())
	}

	for _, pod := range podList.Items {
		if pod.Status.Phase != corev1.PodRunning {
			continue
		}
		isReady := false
		for _, cond := range pod.Status.Conditions {
			if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
				isReady = true
				break
			}
		}
		if !isReady {
			continue
		}
		allContainersReady := true
		if len(pod.Status.ContainerStatuses) == 0 && len(pod.Spec.Containers) > 0 {
			allContainersReady = false
		}
		for _, cs := range pod.Status.ContainerStatuses {
			if !cs.Ready {
				allContainersReady = false
				break
			}
		}
		if allContainersReady {
			return pod.Name, nil
		}
	}
	return "", fmt.Errorf("no ready pods found for service %s/%s (selector: %s)", namespace, serviceName, selector.String())
}
