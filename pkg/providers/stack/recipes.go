/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package stack

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	v1 "github.com/labondemand/labondemand/pkg/apis/v1"
	"github.com/labondemand/labondemand/pkg/operator/options"
	"github.com/labondemand/labondemand/pkg/utils/rand"
	"github.com/labondemand/labondemand/pkg/utils/resources"
)

// Secret data keys.
const (
	KeyDBRootPassword = "db-root-password"
	KeyDBPassword     = "db-password"
	KeyDBUser         = "db-user"
	KeyDBName         = "db-name"
	KeyAdminPassword  = "admin-password"

	passwordLength = 24
	dbUser         = "labuser"
	dbName         = "labdb"
)

// Object naming. Stable for the lab's entire lifetime.

func SecretName(lab string) string        { return lab + "-secret" }
func DataPVCName(lab string) string       { return lab + "-data" }
func DBPVCName(lab string) string         { return lab + "-db-data" }
func WebPVCName(lab string) string        { return lab + "-web-data" }
func ServiceName(lab string) string       { return lab + "-service" }
func DBServiceName(lab string) string     { return lab + "-mysql-service" }
func PMAServiceName(lab string) string    { return lab + "-pma-service" }
func WebServiceName(lab string) string    { return lab + "-web-service" }
func DBDeploymentName(lab string) string  { return lab + "-db" }
func PMADeploymentName(lab string) string { return lab + "-pma" }
func WebDeploymentName(lab string) string { return lab + "-web" }
func IngressName(lab string) string       { return lab + "-ingress" }

var defaultImages = map[v1.StackKind]struct {
	image string
	port  int32
}{
	v1.StackCustom:    {"nginxinc/nginx-unprivileged:stable", 8080},
	v1.StackVSCode:    {"codercom/code-server:latest", 8080},
	v1.StackJupyter:   {"jupyter/base-notebook:latest", 8888},
	v1.StackNetBeans:  {"accetto/ubuntu-vnc-xfce-firefox-g3:latest", 6901},
	v1.StackMySQL:     {"mysql:8.4", 3306},
	v1.StackLAMP:      {"php:8.3-apache", 8080},
	v1.StackWordPress: {"wordpress:6-apache", 8080},
}

const (
	mysqlImage = "mysql:8.4"
	pmaImage   = "phpmyadmin:5"
)

func applyDefaults(req *Request) {
	defaults := defaultImages[req.Kind]
	if req.Image == "" {
		req.Image = defaults.image
	}
	if req.Port == 0 {
		req.Port = defaults.port
	}
	if req.ServiceType == "" {
		req.ServiceType = corev1.ServiceTypeNodePort
	}
	if req.Resources.Replicas == 0 {
		req.Resources.Replicas = 1
	}
	if req.Kind.HasDatabase() && req.VolumeSizeGi == 0 {
		req.VolumeSizeGi = 1
	}
}

// credentialsFor generates the stack's secrets with a cryptographically
// strong source. Called once per Build; on reapply the existing cluster
// Secret wins and these values are discarded.
func credentialsFor(kind v1.StackKind) map[string]string {
	switch kind {
	case v1.StackMySQL, v1.StackLAMP, v1.StackWordPress:
		return map[string]string{
			KeyDBRootPassword: rand.Password(passwordLength),
			KeyDBPassword:     rand.Password(passwordLength),
			KeyDBUser:         dbUser,
			KeyDBName:         dbName,
		}
	case v1.StackVSCode, v1.StackJupyter, v1.StackNetBeans:
		return map[string]string{
			KeyAdminPassword: rand.Password(passwordLength),
		}
	default:
		return map[string]string{}
	}
}

// Auxiliary component sizing. The user's clamped request applies to the
// primary component only.
var (
	auxResources = v1.ResourceSettings{CPURequestMillis: 250, CPULimitMillis: 500, MemRequestMi: 256, MemLimitMi: 512, Replicas: 1}
	dbResources  = v1.ResourceSettings{CPURequestMillis: 250, CPULimitMillis: 1000, MemRequestMi: 512, MemLimitMi: 1024, Replicas: 1}
)

func recipeFor(kind v1.StackKind) []step {
	switch kind {
	case v1.StackMySQL:
		return []step{
			{v1.ComponentDB, buildSecret},
			{v1.ComponentDB, buildDBPVC},
			{v1.ComponentDB, buildDBService},
			{v1.ComponentDB, buildDBDeployment},
			{v1.ComponentPMA, buildPMAService},
			{v1.ComponentPMA, buildPMADeployment},
			{v1.ComponentPMA, buildIngress(v1.ComponentPMA)},
		}
	case v1.StackLAMP:
		return []step{
			{v1.ComponentDB, buildSecret},
			{v1.ComponentDB, buildDBPVC},
			{v1.ComponentWeb, buildWebPVC},
			{v1.ComponentDB, buildDBService},
			{v1.ComponentDB, buildDBDeployment},
			{v1.ComponentPMA, buildPMAService},
			{v1.ComponentPMA, buildPMADeployment},
			{v1.ComponentWeb, buildWebService},
			{v1.ComponentWeb, buildWebDeployment},
			{v1.ComponentWeb, buildIngress(v1.ComponentWeb)},
		}
	case v1.StackWordPress:
		return []step{
			{v1.ComponentDB, buildSecret},
			{v1.ComponentDB, buildDBPVC},
			{v1.ComponentDB, buildDBService},
			{v1.ComponentDB, buildDBDeployment},
			{v1.ComponentWeb, buildWebService},
			{v1.ComponentWeb, buildWebDeployment},
			{v1.ComponentWeb, buildIngress(v1.ComponentWeb)},
		}
	default: // custom, vscode, jupyter, netbeans
		return []step{
			{v1.ComponentMain, buildSecret},
			{v1.ComponentMain, buildDataPVC},
			{v1.ComponentMain, buildMainService},
			{v1.ComponentMain, buildMainDeployment},
			{v1.ComponentMain, buildIngress(v1.ComponentMain)},
		}
	}
}

// --- secrets ---

func buildSecret(_ context.Context, req *Request, creds map[string]string) client.Object {
	if len(creds) == 0 {
		return nil
	}
	data := map[string][]byte{}
	for k, val := range creds {
		data[k] = []byte(val)
	}
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: SecretName(req.Name)},
		Type:       corev1.SecretTypeOpaque,
		Data:       data,
	}
}

// --- volumes ---

func buildPVC(name string, sizeGi int64) client.Object {
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: resources.Storage(sizeGi)},
			},
		},
	}
}

func buildDataPVC(_ context.Context, req *Request, _ map[string]string) client.Object {
	if req.VolumeSizeGi == 0 {
		return nil
	}
	return buildPVC(DataPVCName(req.Name), req.VolumeSizeGi)
}

func buildDBPVC(_ context.Context, req *Request, _ map[string]string) client.Object {
	return buildPVC(DBPVCName(req.Name), req.VolumeSizeGi)
}

func buildWebPVC(_ context.Context, req *Request, _ map[string]string) client.Object {
	if req.VolumeSizeGi == 0 {
		return nil
	}
	return buildPVC(WebPVCName(req.Name), req.VolumeSizeGi)
}

// --- services ---

func buildService(name, component, lab string, port int32, svcType corev1.ServiceType) client.Object {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: corev1.ServiceSpec{
			Type: svcType,
			Selector: map[string]string{
				v1.LabelApp:       lab,
				v1.LabelComponent: component,
			},
			Ports: []corev1.ServicePort{{
				Name:       "main",
				Port:       port,
				TargetPort: intstr.FromInt32(port),
			}},
		},
	}
}

// userFacingServiceType downgrades to ClusterIP when an ingress fronts the
// service.
func userFacingServiceType(ctx context.Context, req *Request) corev1.ServiceType {
	if ingressEligible(ctx, req.Kind) {
		return corev1.ServiceTypeClusterIP
	}
	return req.ServiceType
}

func buildMainService(ctx context.Context, req *Request, _ map[string]string) client.Object {
	return buildService(ServiceName(req.Name), v1.ComponentMain, req.Name, req.Port, userFacingServiceType(ctx, req))
}

func buildDBService(_ context.Context, req *Request, _ map[string]string) client.Object {
	return buildService(DBServiceName(req.Name), v1.ComponentDB, req.Name, 3306, corev1.ServiceTypeClusterIP)
}

func buildPMAService(ctx context.Context, req *Request, _ map[string]string) client.Object {
	return buildService(PMAServiceName(req.Name), v1.ComponentPMA, req.Name, 8080, userFacingServiceType(ctx, req))
}

func buildWebService(ctx context.Context, req *Request, _ map[string]string) client.Object {
	return buildService(WebServiceName(req.Name), v1.ComponentWeb, req.Name, req.Port, userFacingServiceType(ctx, req))
}

// --- deployments ---

type containerSpec struct {
	name      string
	image     string
	port      int32
	res       v1.ResourceSettings
	env       []corev1.EnvVar
	volume    string // PVC claim name, empty for none
	mountPath string
	// bindsLowPort keeps NET_BIND_SERVICE for servers listening below 1024.
	bindsLowPort bool
}

func buildDeployment(name, component, lab string, replicas int32, spec containerSpec) client.Object {
	podLabels := map[string]string{
		v1.LabelApp:       lab,
		v1.LabelComponent: component,
	}
	container := corev1.Container{
		Name:      spec.name,
		Image:     spec.image,
		Ports:     []corev1.ContainerPort{{ContainerPort: spec.port}},
		Env:       spec.env,
		Resources: resources.Requirements(spec.res.CPURequestMillis, spec.res.CPULimitMillis, spec.res.MemRequestMi, spec.res.MemLimitMi),
		SecurityContext: &corev1.SecurityContext{
			RunAsNonRoot:             ptr.To(true),
			AllowPrivilegeEscalation: ptr.To(false),
			Capabilities:             capabilities(spec.bindsLowPort),
			SeccompProfile:           &corev1.SeccompProfile{Type: corev1.SeccompProfileTypeRuntimeDefault},
		},
	}
	var volumes []corev1.Volume
	if spec.volume != "" {
		container.VolumeMounts = []corev1.VolumeMount{{Name: "data", MountPath: spec.mountPath}}
		volumes = []corev1.Volume{{
			Name: "data",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: spec.volume},
			},
		}}
	}
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(replicas),
			Selector: &metav1.LabelSelector{MatchLabels: podLabels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
					Volumes:    volumes,
				},
			},
		},
	}
}

func capabilities(bindsLowPort bool) *corev1.Capabilities {
	caps := &corev1.Capabilities{Drop: []corev1.Capability{"ALL"}}
	if bindsLowPort {
		caps.Add = []corev1.Capability{"NET_BIND_SERVICE"}
	}
	return caps
}

func secretEnv(lab, envName, key string) corev1.EnvVar {
	return corev1.EnvVar{
		Name: envName,
		ValueFrom: &corev1.EnvVarSource{
			SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: SecretName(lab)},
				Key:                  key,
			},
		},
	}
}

func plainEnv(env map[string]string) []corev1.EnvVar {
	var out []corev1.EnvVar
	for name, value := range env {
		out = append(out, corev1.EnvVar{Name: name, Value: value})
	}
	return out
}

func buildMainDeployment(_ context.Context, req *Request, creds map[string]string) client.Object {
	env := plainEnv(req.Env)
	if _, ok := creds[KeyAdminPassword]; ok {
		switch req.Kind {
		case v1.StackJupyter:
			env = append(env, secretEnv(req.Name, "JUPYTER_TOKEN", KeyAdminPassword))
		case v1.StackNetBeans:
			env = append(env, secretEnv(req.Name, "VNC_PW", KeyAdminPassword))
		default:
			env = append(env, secretEnv(req.Name, "PASSWORD", KeyAdminPassword))
		}
	}
	volume, mount := "", ""
	if req.VolumeSizeGi > 0 {
		volume, mount = DataPVCName(req.Name), "/home/workspace"
	}
	return buildDeployment(req.Name, v1.ComponentMain, req.Name, req.Resources.Replicas, containerSpec{
		name:   string(req.Kind),
		image:  req.Image,
		port:   req.Port,
		res:    req.Resources,
		env:    env,
		volume: volume, mountPath: mount,
	})
}

func buildDBDeployment(_ context.Context, req *Request, _ map[string]string) client.Object {
	env := []corev1.EnvVar{
		secretEnv(req.Name, "MYSQL_ROOT_PASSWORD", KeyDBRootPassword),
		secretEnv(req.Name, "MYSQL_PASSWORD", KeyDBPassword),
		secretEnv(req.Name, "MYSQL_USER", KeyDBUser),
		secretEnv(req.Name, "MYSQL_DATABASE", KeyDBName),
	}
	res := dbResources
	if req.Kind == v1.StackMySQL {
		// The database is the primary component of a mysql stack.
		res = req.Resources
		res.Replicas = 1
	}
	return buildDeployment(DBDeploymentName(req.Name), v1.ComponentDB, req.Name, 1, containerSpec{
		name:   "mysql",
		image:  mysqlImage,
		port:   3306,
		res:    res,
		env:    env,
		volume: DBPVCName(req.Name), mountPath: "/var/lib/mysql",
	})
}

func buildPMADeployment(_ context.Context, req *Request, _ map[string]string) client.Object {
	env := []corev1.EnvVar{
		{Name: "PMA_HOST", Value: DBServiceName(req.Name)},
		{Name: "APACHE_PORT", Value: "8080"},
	}
	return buildDeployment(PMADeploymentName(req.Name), v1.ComponentPMA, req.Name, 1, containerSpec{
		name:  "phpmyadmin",
		image: pmaImage,
		port:  8080,
		res:   auxResources,
		env:   env,
	})
}

func buildWebDeployment(_ context.Context, req *Request, _ map[string]string) client.Object {
	var env []corev1.EnvVar
	switch req.Kind {
	case v1.StackWordPress:
		env = []corev1.EnvVar{
			{Name: "WORDPRESS_DB_HOST", Value: DBServiceName(req.Name)},
			secretEnv(req.Name, "WORDPRESS_DB_PASSWORD", KeyDBPassword),
			secretEnv(req.Name, "WORDPRESS_DB_USER", KeyDBUser),
			secretEnv(req.Name, "WORDPRESS_DB_NAME", KeyDBName),
		}
	default:
		env = []corev1.EnvVar{
			{Name: "DB_HOST", Value: DBServiceName(req.Name)},
			secretEnv(req.Name, "DB_PASSWORD", KeyDBPassword),
			secretEnv(req.Name, "DB_USER", KeyDBUser),
			secretEnv(req.Name, "DB_NAME", KeyDBName),
		}
	}
	env = append(env, plainEnv(req.Env)...)
	volume, mount := "", ""
	if req.Kind == v1.StackLAMP && req.VolumeSizeGi > 0 {
		volume, mount = WebPVCName(req.Name), "/var/www/html"
	}
	return buildDeployment(WebDeploymentName(req.Name), v1.ComponentWeb, req.Name, req.Resources.Replicas, containerSpec{
		name:   "web",
		image:  req.Image,
		port:   req.Port,
		res:    req.Resources,
		env:    env,
		volume: volume, mountPath: mount,
	})
}

// --- ingress ---

func buildIngress(component string) func(ctx context.Context, req *Request, _ map[string]string) client.Object {
	return func(ctx context.Context, req *Request, _ map[string]string) client.Object {
		if !ingressEligible(ctx, req.Kind) {
			return nil
		}
		opts := options.FromContext(ctx)
		var serviceName string
		var servicePort int32
		switch component {
		case v1.ComponentPMA:
			serviceName, servicePort = PMAServiceName(req.Name), 8080
		case v1.ComponentWeb:
			serviceName, servicePort = WebServiceName(req.Name), req.Port
		default:
			serviceName, servicePort = ServiceName(req.Name), req.Port
		}
		host := v1.IngressHost(req.Name, req.UserID, opts.IngressBaseDomain)
		pathType := networkingv1.PathTypePrefix
		ingress := &networkingv1.Ingress{
			ObjectMeta: metav1.ObjectMeta{Name: IngressName(req.Name)},
			Spec: networkingv1.IngressSpec{
				Rules: []networkingv1.IngressRule{{
					Host: host,
					IngressRuleValue: networkingv1.IngressRuleValue{
						HTTP: &networkingv1.HTTPIngressRuleValue{
							Paths: []networkingv1.HTTPIngressPath{{
								Path:     "/",
								PathType: &pathType,
								Backend: networkingv1.IngressBackend{
									Service: &networkingv1.IngressServiceBackend{
										Name: serviceName,
										Port: networkingv1.ServiceBackendPort{Number: servicePort},
									},
								},
							}},
						},
					},
				}},
			},
		}
		if opts.IngressClassName != "" {
			ingress.Spec.IngressClassName = ptr.To(opts.IngressClassName)
		}
		if opts.IngressTLSSecret != "" {
			ingress.Spec.TLS = []networkingv1.IngressTLS{{Hosts: []string{host}, SecretName: opts.IngressTLSSecret}}
		}
		return ingress
	}
}

// --- planned usage ---

// objectUsage maps a manifest to the ResourceQuota dimensions it will
// consume.
func objectUsage(obj client.Object, podCount *int64) corev1.ResourceList {
	switch o := obj.(type) {
	case *appsv1.Deployment:
		replicas := int64(1)
		if o.Spec.Replicas != nil {
			replicas = int64(*o.Spec.Replicas)
		}
		*podCount += replicas
		usage := corev1.ResourceList{corev1.ResourcePods: resources.Count(replicas)}
		for _, c := range o.Spec.Template.Spec.Containers {
			for i := int64(0); i < replicas; i++ {
				usage = resources.Merge(usage, corev1.ResourceList{
					corev1.ResourceRequestsCPU:    c.Resources.Requests[corev1.ResourceCPU],
					corev1.ResourceRequestsMemory: c.Resources.Requests[corev1.ResourceMemory],
					corev1.ResourceLimitsCPU:      c.Resources.Limits[corev1.ResourceCPU],
					corev1.ResourceLimitsMemory:   c.Resources.Limits[corev1.ResourceMemory],
				})
			}
		}
		return usage
	case *corev1.PersistentVolumeClaim:
		return corev1.ResourceList{
			corev1.ResourcePersistentVolumeClaims: resources.Count(1),
			corev1.ResourceRequestsStorage:        o.Spec.Resources.Requests[corev1.ResourceStorage],
		}
	default:
		return nil
	}
}
