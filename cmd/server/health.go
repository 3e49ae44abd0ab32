package main

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ai-and-i/recorder/internal/grpcclient"
	"github.com/ai-and-i/recorder/internal/recorder"
	"github.com/ai-and-i/recorder/internal/session"
)

var streamService = map[session.Stream]string{
	session.StreamMic:    grpcclient.ServiceMic,
	session.StreamSystem: grpcclient.ServiceSystem,
}

// reportHealth mirrors per-stream capture health into the gRPC health
// server until events is closed. Streams are NOT_SERVING while idle.
func reportHealth(hs *health.Server, events <-chan recorder.Event, status func() recorder.Status) {
	set := func(svc string, ok bool) {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if ok {
			st = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(svc, st)
	}
	set(grpcclient.ServiceMic, false)
	set(grpcclient.ServiceSystem, false)

	for ev := range events {
		switch ev.Type {
		case recorder.EventSessionStarted:
			st := status()
			set(grpcclient.ServiceMic, st.MicDevice.Name != "")
			set(grpcclient.ServiceSystem, st.SystemDevice.Name != "")
		case recorder.EventSessionStopped:
			set(grpcclient.ServiceMic, false)
			set(grpcclient.ServiceSystem, false)
		case recorder.EventSourceHealth:
			if svc, ok := streamService[ev.Stream]; ok {
				set(svc, ev.Health == "healthy")
			}
		case recorder.EventSourceUnavailable:
			if svc, ok := streamService[ev.Stream]; ok {
				set(svc, false)
			}
		case recorder.EventDeviceSwap:
			set(grpcclient.ServiceMic, true)
		}
	}
}
